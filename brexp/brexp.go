/*
Brexp is a simple tool which helps working with trees in newick
format. It has three modes: "brlen" will export all the branch
lengths named as the traitgauss branch length parameters, "brtree"
will export the tree with node ids instead of branch lengths and
"mrca" will print the id of the node where a restricted partial with
the given taxa attaches.
*/
package main

import (
	"fmt"
	"os"

	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/traitgauss/tree"
)

var (
	app        = kingpin.New("brexp", "export branch information of a newick tree")
	inFileName = app.Flag("in", "input filename (standard input by default)").ExistingFile()
	mode       = app.Flag("mode", "program mode").Default("brlen").Enum("brlen", "brtree", "mrca")
	taxa       = app.Arg("taxa", "taxa for the mrca mode").Strings()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	infile := os.Stdin
	if *inFileName != "" {
		f, err := os.Open(*inFileName)
		app.FatalIfError(err, "opening tree")
		defer f.Close()
		infile = f
	}

	t, err := tree.ParseNewick(infile)
	app.FatalIfError(err, "parsing tree")

	switch *mode {
	case "brlen":
		for _, node := range t.PreOrder() {
			if !node.IsRoot() {
				fmt.Printf("br%d=%f\n", node.ID, node.BranchLength)
			}
		}
	case "brtree":
		fmt.Println(t.IDString())
	case "mrca":
		if len(*taxa) == 0 {
			app.Fatalf("mrca mode requires taxa")
		}
		node, err := t.MRCA(*taxa)
		app.FatalIfError(err, "mrca")
		fmt.Println(node.ID)
	}
}
