package store

import "errors"

var (
	ErrStoreNotFound = errors.New("layered store not found")
	ErrStoreExists   = errors.New("layered store already exists")
	ErrLayerNotFound = errors.New("layer not found in store")
	ErrLayerExists   = errors.New("layer already exists in store")
	ErrReservedLayer = errors.New("layer name is reserved")
	ErrReadOnly      = errors.New("layered store opened read-only")
	ErrNoTemplate    = errors.New("layered store has no template grid")
)
