package datastore

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badg "github.com/ipfs/go-ds-badger2"
	"github.com/lthibault/log"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

type Config struct {
	Backend    string
	Dir        string
	SyncWrites bool
}

// Open returns the datastore selected by conf. The caller closes it.
func Open(l log.Logger, conf Config) (ds.Batching, error) {
	switch conf.Backend {
	case BackendMemory, "":
		return dssync.MutexWrap(ds.NewMapDatastore()), nil
	case BackendBadger:
		d, err := OpenBadger(l, conf.Dir, conf.SyncWrites)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown datastore backend %q", conf.Backend)
}

func OpenBadger(l log.Logger, dir string, syncWrites bool) (*badg.Datastore, error) {
	opts := badg.DefaultOptions
	opts.Options = opts.Options.
		WithSyncWrites(syncWrites).
		WithLogger(badgerLogger{l.WithField("subService", "badger")})

	return badg.NewDatastore(dir, &opts)
}

var _ badger.Logger = badgerLogger{}

// badgerLogger routes badger's own logging into ours. Badger is chatty at
// info level, so that goes to debug.
type badgerLogger struct {
	l log.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debugf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debugf(f, v...) }
