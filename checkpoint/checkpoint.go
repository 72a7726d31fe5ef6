// Package checkpoint saves the optimizer state to a bolt database, so
// an interrupted run can be resumed from the last saved parameter
// values.
package checkpoint

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	bolt "go.etcd.io/bbolt"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all the checkpoints.
var MAIN = []byte("main")

// Data is the saved optimizer state.
type Data struct {
	Parameters map[string]float64
	Likelihood float64
	Iter       int
	Final      bool
}

// IO saves and loads checkpoints for a single key.
type IO struct {
	db     *bolt.DB
	key    []byte
	last   time.Time
	period time.Duration
}

// OpenDB opens or creates the checkpoint database.
func OpenDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint database %s", path)
	}
	return db, nil
}

// Key creates a checkpoint key from its parts, e.g. the command and
// the hypothesis.
func Key(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

// NewIO creates a new IO. A checkpoint is considered old after the
// number of seconds.
func NewIO(db *bolt.DB, key []byte, seconds float64) *IO {
	return &IO{
		db:     db,
		key:    key,
		period: time.Duration(seconds * float64(time.Second)),
	}
}

// Save saves the checkpoint.
func (s *IO) Save(data *Data) error {
	// even if saving fails, we do not want to retry too often
	s.SetNow()
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "serializing checkpoint")
	}
	if err := SaveData(s.db, s.key, b); err != nil {
		return errors.Wrapf(err, "saving checkpoint %s", s.key)
	}
	log.Debugf("Checkpoint saved (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	return nil
}

// Load returns the saved checkpoint, or nil if there is none.
func (s *IO) Load() (*Data, error) {
	b, err := LoadData(s.db, s.key)
	if err != nil || b == nil {
		return nil, err
	}
	var data *Data
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint %s", s.key)
	}
	if data == nil || len(data.Parameters) == 0 {
		return nil, nil
	}
	if data.Final {
		log.Noticef("Found finished optimization checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	} else {
		log.Noticef("Found unfinished optimization checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	}
	return data, nil
}

// Old returns true if the last checkpoint was saved too long ago.
func (s *IO) Old() bool {
	return time.Since(s.last) > s.period
}

// SetNow sets last checkpoint time to now.
func (s *IO) SetNow() {
	s.last = time.Now()
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LoadData loads data from bolt database. The returned slice is a
// copy, valid after the transaction is closed.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
