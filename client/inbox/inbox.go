// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inbox stores the messages drained from the provider mailbox.
// Providers may hand out the same message more than once, each distinct
// message is kept exactly once.
package inbox

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/core/log"
)

const (
	metadataBucket = "metadata"
	messagesBucket = "messages"
	idsBucket      = "ids"
	versionKey     = "version"

	filterSizeLn2 = 20
	filterFPRate  = 0.001
)

// Inbox is a bbolt backed message store.
type Inbox struct {
	sync.Mutex

	db     *bolt.DB
	filter *bloom.Filter
	log    *logging.Logger
}

// New creates or opens the inbox database at f.
func New(f string, logBackend *log.Backend) (*Inbox, error) {
	var err error

	i := &Inbox{
		log: logBackend.GetLogger("inbox"),
	}
	if i.filter, err = bloom.New(rand.Reader, filterSizeLn2, filterFPRate); err != nil {
		return nil, err
	}
	if i.db, err = bolt.Open(f, 0600, nil); err != nil {
		return nil, err
	}

	if err = i.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(messagesBucket)); err != nil {
			return err
		}
		idBkt, err := tx.CreateBucketIfNotExists([]byte(idsBucket))
		if err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("inbox: incompatible version: %d", uint(b[0]))
			}
			return idBkt.ForEach(func(k, v []byte) error {
				i.filter.TestAndSet(k)
				return nil
			})
		}
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		i.db.Close()
		return nil, err
	}
	return i, nil
}

// Deliver stores every message not already present and returns how many
// were new.
func (i *Inbox) Deliver(msgs [][]byte) (int, error) {
	i.Lock()
	defer i.Unlock()

	stored := 0
	err := i.db.Update(func(tx *bolt.Tx) error {
		msgBkt := tx.Bucket([]byte(messagesBucket))
		idBkt := tx.Bucket([]byte(idsBucket))

		for _, m := range msgs {
			id := hash.Sum256(m)

			// A filter miss is authoritative, a hit needs the database.
			saturated := i.filter.Entries() >= i.filter.MaxEntries()
			if saturated || i.filter.TestAndSet(id[:]) {
				if idBkt.Get(id[:]) != nil {
					continue
				}
			}

			seq, err := msgBkt.NextSequence()
			if err != nil {
				return err
			}
			var k [8]byte
			binary.BigEndian.PutUint64(k[:], seq)
			if err := msgBkt.Put(k[:], m); err != nil {
				return err
			}
			if err := idBkt.Put(id[:], k[:]); err != nil {
				return err
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if dup := len(msgs) - stored; dup > 0 {
		i.log.Debugf("Dropped %d duplicate messages", dup)
	}
	return stored, nil
}

// Count returns the number of stored messages.
func (i *Inbox) Count() (int, error) {
	n := 0
	err := i.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(messagesBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Messages returns every stored message in arrival order.
func (i *Inbox) Messages() ([][]byte, error) {
	var msgs [][]byte
	err := i.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(messagesBucket)).ForEach(func(k, v []byte) error {
			m := make([]byte, len(v))
			copy(m, v)
			msgs = append(msgs, m)
			return nil
		})
	})
	return msgs, err
}

// Close closes the database.
func (i *Inbox) Close() error {
	return i.db.Close()
}
