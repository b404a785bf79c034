package repository

import (
	"context"
	"errors"
	"fmt"
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/jaam8/poll_ledger/internal/models"
	"github.com/tarantool/go-tarantool"
	"go.uber.org/zap"
)

const entitiesSpace = "entities"

// commitBatch creates the guard (when given) and replaces every entity whose
// version still matches what we read, inside one box transaction.
const commitBatch = `
local guard, updates = ...
box.begin()
if #guard > 0 then
    if box.space.entities:get(guard[1]) ~= nil then
        box.rollback()
        return 'exists'
    end
    box.space.entities:insert({guard[1], guard[2], 1})
end
for _, u in ipairs(updates) do
    local t = box.space.entities:get(u[1])
    if t == nil then
        box.rollback()
        return 'missing'
    end
    if t[3] ~= u[2] then
        box.rollback()
        return 'conflict'
    end
    box.space.entities:replace({u[1], u[3], u[2] + 1})
end
box.commit()
return 'ok'
`

type TarantoolStore struct {
	db *tarantool.Connection
	l  *zap.Logger
}

func NewTarantoolStore(db *tarantool.Connection, l *zap.Logger) *TarantoolStore {
	return &TarantoolStore{
		db: db,
		l:  l,
	}
}

func (s *TarantoolStore) Create(_ context.Context, addr address.Address, value []byte) error {
	resp, err := s.db.Insert(entitiesSpace, []interface{}{addr.String(), string(value), uint64(1)})
	if err != nil {
		var tErr tarantool.Error
		if errors.As(err, &tErr) && tErr.Code == tarantool.ErrTupleFound {
			s.l.Debug("entity already exists", zap.Stringer("address", addr))
			return models.ErrAlreadyExists
		}
		s.l.Debug("error inserting entity", zap.Stringer("address", addr), zap.Error(err))
		return fmt.Errorf("repository: database insert error: %w", err)
	}
	s.l.Debug("tarantool response",
		zap.Uint32("status_code", resp.Code),
		zap.Any("resp", resp.Data))
	return nil
}

func (s *TarantoolStore) Read(_ context.Context, addr address.Address) ([]byte, error) {
	payload, _, err := s.get(addr)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *TarantoolStore) Commit(ctx context.Context, guard *Entry, mutations ...Mutation) error {
	guardTuple := []interface{}{}
	if guard != nil {
		guardTuple = []interface{}{guard.Addr.String(), string(guard.Value)}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		writes, err := applyMutations(mutations, s.get)
		if err != nil {
			return err
		}
		updates := make([]interface{}, 0, len(writes))
		for _, w := range writes {
			updates = append(updates, []interface{}{w.addr.String(), w.version, string(w.value)})
		}
		resp, err := s.db.Eval(commitBatch, []interface{}{guardTuple, updates})
		if err != nil {
			s.l.Debug("failed to commit entities", zap.Error(err))
			return fmt.Errorf("repository: database commit error: %w", err)
		}
		if len(resp.Data) == 0 {
			return models.ErrFailedToProcessData
		}
		switch resp.Data[0] {
		case "ok":
			return nil
		case "exists":
			s.l.Debug("entity already exists", zap.Stringer("address", guard.Addr))
			return models.ErrAlreadyExists
		case "missing":
			return models.ErrNotFound
		case "conflict":
			s.l.Debug("concurrent commit, retrying", zap.Int("entities", len(writes)))
		default:
			s.l.Debug("unexpected eval result", zap.Any("resp", resp.Data))
			return models.ErrFailedToProcessData
		}
	}
}

func (s *TarantoolStore) get(addr address.Address) ([]byte, uint64, error) {
	resp, err := s.db.Select(entitiesSpace, "primary", 0, 1, tarantool.IterEq, []interface{}{addr.String()})
	if err != nil {
		s.l.Debug("failed to select entity", zap.Error(err))
		return nil, 0, fmt.Errorf("repository: database select error: %w", err)
	}
	s.l.Debug("tarantool response",
		zap.Uint32("status_code", resp.Code),
		zap.Any("resp", resp.Data),
		zap.String("error", resp.Error))
	if len(resp.Data) == 0 {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrNotFound, addr)
	}
	tuple, ok := resp.Data[0].([]interface{})
	if !ok || len(tuple) < 3 {
		s.l.Debug("unexpected data type", zap.Any("data", resp.Data))
		return nil, 0, models.ErrFailedToProcessData
	}
	payload, ok := tuple[1].(string)
	if !ok {
		return nil, 0, models.ErrFailedToProcessData
	}
	version, ok := toUint64(tuple[2])
	if !ok {
		return nil, 0, models.ErrFailedToProcessData
	}
	return []byte(payload), version, nil
}

func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		return uint64(x), x >= 0
	case uint32:
		return uint64(x), true
	case int:
		return uint64(x), x >= 0
	case uint8:
		return uint64(x), true
	case int8:
		return uint64(x), x >= 0
	default:
		return 0, false
	}
}
