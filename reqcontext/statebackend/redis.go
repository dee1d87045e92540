// Package statebackend provides an alternate reqcontext.State
// implementation for an execution host shared by multiple worker
// processes: reqcontext.MemoryState only shares state within the process
// that created it, which is fine for the local runner but not for a fleet
// of remote workers cooperating on one request. RedisState stores the same
// serializer.Blob shape MemoryState keeps in its map, just in a Redis hash
// keyed by request id (this narrows a shared-state-store interface to the
// single Get/Set shape reqcontext.State actually needs).
package statebackend

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/tensorlake/sdk-go/reqcontext"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

var _ reqcontext.State = (*RedisState)(nil)

// RedisState is a reqcontext.State backed by one Redis hash per request id.
type RedisState struct {
	client    *redis.Client
	requestID string
}

// NewRedisState builds a RedisState scoped to requestID. client is shared
// across requests; callers typically construct one redis.Client per
// process and a RedisState per request.
func NewRedisState(client *redis.Client, requestID string) *RedisState {
	return &RedisState{client: client, requestID: requestID}
}

func (s *RedisState) hashKey() string {
	return "tensorlake:state:" + s.requestID
}

// Get satisfies reqcontext.State.
func (s *RedisState) Get(key string) (any, bool, error) {
	raw, err := s.client.HGet(context.Background(), s.hashKey(), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var blob serializer.Blob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, false, sdkerrors.NewInternalError("statebackend: decoding stored blob for key %q: %v", key, err)
	}
	codec, err := serializer.ByName(blob.SerializerName)
	if err != nil {
		return nil, false, err
	}
	v, err := codec.Unmarshal(blob.Data, blob.ClassHint)
	if err != nil {
		return nil, false, &sdkerrors.SerializationError{Serializer: blob.SerializerName, Cause: err}
	}
	return v, true, nil
}

// Set satisfies reqcontext.State.
func (s *RedisState) Set(key string, value any) error {
	codec, err := serializer.ByName(serializer.Binary)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return &sdkerrors.SerializationError{Serializer: serializer.Binary, Cause: err}
	}
	blob := serializer.Blob{Data: data, SerializerName: serializer.Binary, ContentType: codec.ContentType(), ClassHint: serializer.ClassTokenOf(value)}

	raw, err := json.Marshal(blob)
	if err != nil {
		return sdkerrors.NewInternalError("statebackend: encoding blob for key %q: %v", key, err)
	}
	return s.client.HSet(context.Background(), s.hashKey(), key, raw).Err()
}

// Close releases the underlying Redis connection pool. Call it once per
// process, not per request.
func (s *RedisState) Close() error {
	return s.client.Close()
}
