package leveldb

import (
	"context"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"docstore/internal/domain/repositories"
)

// executor is implemented by both *goleveldb.DB and *goleveldb.Transaction
type executor interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
	Put(key, value []byte, wo *opt.WriteOptions) error
	Delete(key []byte, wo *opt.WriteOptions) error
}

type txContextKey struct{}

func withTx(ctx context.Context, tx *goleveldb.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFrom(ctx context.Context) *goleveldb.Transaction {
	tx, _ := ctx.Value(txContextKey{}).(*goleveldb.Transaction)
	return tx
}

// getExecutor returns the transaction carried by ctx, or the database.
// While a transaction is open, writes outside it block, so every call made
// inside ExecTx must go through this.
func getExecutor(ctx context.Context, db *goleveldb.DB) executor {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db
}

// TransactionManager implements repositories.TransactionManager
type TransactionManager struct {
	db *goleveldb.DB
}

// ExecTx executes fn within a transaction. A context already carrying a
// transaction joins it.
func (tm *TransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		tx.Discard()
		return err
	}

	if err := tx.Commit(); err != nil {
		tx.Discard()
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
