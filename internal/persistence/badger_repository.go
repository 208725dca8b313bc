package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"projectx-bracket-bot/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the Repository.
type badgerRepository struct {
	db        *badger.DB
	paramsKey []byte
	tradeSeq  *badger.Sequence
}

const tradeKeyPrefix = "trade:"

// NewBadgerRepository creates a repository backed by a BadgerDB database at
// dbPath.
func NewBadgerRepository(dbPath string) (Repository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence([]byte("trade_seq"), 100)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &badgerRepository{
		db:        db,
		paramsKey: []byte("zone_params"),
		tradeSeq:  seq,
	}, nil
}

// SaveParams marshals the snapshot into JSON and saves it under a fixed key.
func (r *badgerRepository) SaveParams(params *models.ZoneParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.paramsKey, data)
	})
}

// LoadParams loads the snapshot. A missing key returns (nil, nil) so the
// caller can fall back to defaults.
func (r *badgerRepository) LoadParams() (*models.ZoneParams, error) {
	var params models.ZoneParams

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.paramsKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("params value is empty in database")
			}
			return json.Unmarshal(val, &params)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &params, nil
}

// AppendTrade writes the trade under a monotonically increasing key so that
// LoadTrades returns records in insertion order.
func (r *badgerRepository) AppendTrade(trade *models.TradeRecord) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}

	seq, err := r.tradeSeq.Next()
	if err != nil {
		return err
	}

	key := make([]byte, len(tradeKeyPrefix)+8)
	copy(key, tradeKeyPrefix)
	binary.BigEndian.PutUint64(key[len(tradeKeyPrefix):], seq)

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// LoadTrades iterates the trade prefix and unmarshals every record.
func (r *badgerRepository) LoadTrades() ([]models.TradeRecord, error) {
	var trades []models.TradeRecord

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tradeKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var t models.TradeRecord
				if err := json.Unmarshal(val, &t); err != nil {
					return err
				}
				trades = append(trades, t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// Close releases the trade sequence and closes the database.
func (r *badgerRepository) Close() error {
	if err := r.tradeSeq.Release(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}
