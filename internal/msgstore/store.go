package msgstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/logger"
)

const (
	keyPrefix      = "msg/"
	seqKeyPrefix   = "seq/"
	seqBandwidth   = 64
	maxMessageSize = 4000
)

// Order selects the direction of a history page.
type Order int

const (
	// OldestFirst returns messages in append order.
	OldestFirst Order = iota
	// NewestFirst returns the most recent messages first.
	NewestFirst
)

// Message is one immutable chat log entry. Seq is assigned by the store and is
// monotonically increasing within a room; history ordering uses Seq, never
// wall-clock time.
type Message struct {
	Seq       uint64    `json:"seq"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ID renders the message identity as the opaque cursor form.
func (m Message) ID() string {
	return encodeCursor(m.Seq)
}

// Config describes where the message log lives.
type Config struct {
	Path     string
	InMemory bool
}

// Store is the append-only chat message log backed by badger. Each room owns a
// contiguous key range msg/<room>/<seq>, so a prefix iterator yields the
// room's history in append order.
type Store struct {
	db  *badger.DB
	log *zap.Logger

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// Open initialises the badger-backed store at the configured path.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("msgstore: open: %w", err)
	}

	return &Store{
		db:   db,
		log:  logger.WithModule("msgstore"),
		seqs: make(map[string]*badger.Sequence),
	}, nil
}

// Close releases room sequences and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	for room, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.log.Warn("release sequence failed", zap.String("room_id", room), zap.Error(err))
		}
		delete(s.seqs, room)
	}
	s.mu.Unlock()

	return s.db.Close()
}

// Append writes one message to the room's log and returns it with its
// assigned identity. Storage failures surface as retryable transient errors;
// the caller decides whether to retry, but the failure is never swallowed.
func (s *Store) Append(ctx context.Context, roomID, senderID, content string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	roomID = strings.TrimSpace(roomID)
	senderID = strings.TrimSpace(senderID)
	content = strings.TrimSpace(content)
	switch {
	case roomID == "":
		return Message{}, apperrors.NewBadRequest("room id is required")
	case senderID == "":
		return Message{}, apperrors.NewBadRequest("sender id is required")
	case content == "":
		return Message{}, apperrors.NewBadRequest("message content is required")
	case len(content) > maxMessageSize:
		return Message{}, apperrors.NewBadRequest("message content exceeds maximum length")
	}

	seq, err := s.next(roomID)
	if err != nil {
		return Message{}, apperrors.WrapTransient(err, "msgstore: allocate sequence")
	}

	msg := Message{
		Seq:       seq,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("msgstore: encode message: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(roomID, seq), payload)
	})
	if err != nil {
		return Message{}, apperrors.WrapTransient(err, "msgstore: append message")
	}

	return msg, nil
}

// Page is one slice of a room's history plus the cursor to continue from.
type Page struct {
	Messages   []Message
	NextCursor string
	HasMore    bool
}

// ListByRoom returns one page of the room's history. The cursor is opaque and
// pins pagination to the message identity of the previous page's boundary, so
// concurrent appends can neither duplicate nor skip entries.
func (s *Store) ListByRoom(ctx context.Context, roomID, cursor string, pageSize int, order Order) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Page{}, apperrors.NewBadRequest("room id is required")
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	boundary, haveBoundary, err := decodeCursor(cursor)
	if err != nil {
		return Page{}, apperrors.NewBadRequest("invalid history cursor")
	}

	prefix := roomPrefix(roomID)
	var page Page

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = order == NewestFirst
		it := txn.NewIterator(opts)
		defer it.Close()

		seekTo := prefix
		if order == NewestFirst {
			// Reverse iteration seeks to the largest key under the prefix.
			seekTo = append(bytes.Clone(prefix), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		}
		it.Seek(seekTo)

		for ; it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq, ok := seqFromKey(item.Key(), prefix)
			if !ok {
				continue
			}
			if haveBoundary {
				if order == OldestFirst && seq <= boundary {
					continue
				}
				if order == NewestFirst && seq >= boundary {
					continue
				}
			}

			if len(page.Messages) == pageSize {
				page.HasMore = true
				break
			}

			var msg Message
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			page.Messages = append(page.Messages, msg)
		}
		return nil
	})
	if err != nil {
		return Page{}, apperrors.WrapTransient(err, "msgstore: list messages")
	}

	if n := len(page.Messages); n > 0 {
		page.NextCursor = encodeCursor(page.Messages[n-1].Seq)
	}
	return page, nil
}

// DeleteAllForRoom removes the whole message log of a room; deleting an empty
// or unknown room is a no-op.
func (s *Store) DeleteAllForRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return apperrors.NewBadRequest("room id is required")
	}

	prefix := roomPrefix(roomID)

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapTransient(err, "msgstore: scan room log")
	}

	s.releaseSequence(roomID)
	keys = append(keys, sequenceKey(roomID))

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return apperrors.WrapTransient(err, "msgstore: delete room log")
		}
	}
	if err := batch.Flush(); err != nil {
		return apperrors.WrapTransient(err, "msgstore: delete room log")
	}

	s.log.Info("room log deleted", zap.String("room_id", roomID), zap.Int("messages", len(keys)-1))
	return nil
}

func (s *Store) next(roomID string) (uint64, error) {
	s.mu.Lock()
	seq, ok := s.seqs[roomID]
	if !ok {
		var err error
		seq, err = s.db.GetSequence(sequenceKey(roomID), seqBandwidth)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		s.seqs[roomID] = seq
	}
	s.mu.Unlock()

	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// Message identities start at 1 so the zero value never names a message.
	return n + 1, nil
}

func (s *Store) releaseSequence(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.seqs[roomID]; ok {
		if err := seq.Release(); err != nil && !errors.Is(err, badger.ErrDBClosed) {
			s.log.Warn("release sequence failed", zap.String("room_id", roomID), zap.Error(err))
		}
		delete(s.seqs, roomID)
	}
}

func roomPrefix(roomID string) []byte {
	return []byte(keyPrefix + roomID + "/")
}

func messageKey(roomID string, seq uint64) []byte {
	key := roomPrefix(roomID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func sequenceKey(roomID string) []byte {
	return []byte(seqKeyPrefix + roomID)
}

func seqFromKey(key, prefix []byte) (uint64, bool) {
	if len(key) != len(prefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), true
}

func encodeCursor(seq uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

func decodeCursor(cursor string) (uint64, bool, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) != 8 {
		return 0, false, fmt.Errorf("malformed cursor")
	}
	return binary.BigEndian.Uint64(raw), true, nil
}
