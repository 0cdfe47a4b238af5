package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	etag        string
	updatedAt   time.Time
}

func newMemoryStore(prefix string) Store {
	return &memoryStore{
		prefix:  normalizePrefix(prefix),
		objects: make(map[string]memoryObject),
	}
}

func (m *memoryStore) Put(_ context.Context, key string, payload []byte, opts PutOptions) error {
	logicalKey, err := normalizeKey(key)
	if err != nil {
		return err
	}
	fullKey := joinPrefix(m.prefix, logicalKey)

	sum := md5.Sum(payload)
	m.mu.Lock()
	m.objects[fullKey] = memoryObject{
		data:        append([]byte(nil), payload...),
		contentType: strings.TrimSpace(opts.ContentType),
		metadata:    cloneMetadata(opts.Metadata),
		etag:        hex.EncodeToString(sum[:]),
		updatedAt:   time.Now().UTC(),
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (Object, error) {
	logicalKey, err := normalizeKey(key)
	if err != nil {
		return Object{}, err
	}
	fullKey := joinPrefix(m.prefix, logicalKey)

	m.mu.RLock()
	obj, ok := m.objects[fullKey]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, logicalKey)
	}
	return Object{
		Key:          logicalKey,
		Data:         append([]byte(nil), obj.data...),
		ContentType:  obj.contentType,
		Metadata:     cloneMetadata(obj.metadata),
		ETag:         obj.etag,
		LastModified: obj.updatedAt,
	}, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	logicalKey, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	fullKey := joinPrefix(m.prefix, logicalKey)

	m.mu.RLock()
	_, ok := m.objects[fullKey]
	m.mu.RUnlock()
	return ok, nil
}
