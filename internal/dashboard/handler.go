package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	kvsync "github.com/steveyegge/kvsync/internal/sync"
)

// SyncCompleteData describes one finished sync.
type SyncCompleteData struct {
	Trigger     string        `json:"trigger"`
	Outcome     string        `json:"outcome"`
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Full        bool          `json:"full"`
	Written     int           `json:"written"`
	Deleted     int           `json:"deleted"`
	Unchanged   int           `json:"unchanged"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// KeySyncedData names a key whose value changed in the destination.
type KeySyncedData struct {
	Key  string `json:"key"`
	From string `json:"from"`
	To   string `json:"to"`
}

// MonitorData lists the monitored keys.
type MonitorData struct {
	Keys []string `json:"keys"`
}

// StatsData contains running totals since the handler was created.
type StatsData struct {
	Syncs       int       `json:"syncs"`
	Failures    int       `json:"failures"`
	KeysWritten int       `json:"keys_written"`
	KeysDeleted int       `json:"keys_deleted"`
	Monitored   []string  `json:"monitored"`
	LastSync    time.Time `json:"last_sync,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Handler turns engine events into dashboard messages. It implements
// sync.Listener.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ kvsync.Listener = (*Handler)(nil)

// NewHandler creates a handler broadcasting through server. New clients
// are greeted with the current stats.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{Monitored: []string{}},
	}
	server.SetGreeting(h.statsMessage)
	return h
}

// SyncCompleted implements sync.Listener.
func (h *Handler) SyncCompleted(res kvsync.Result, err error) {
	data := SyncCompleteData{
		Trigger:     res.Trigger.String(),
		Outcome:     res.Outcome.String(),
		Source:      res.Source.String(),
		Destination: res.Destination().String(),
		Full:        res.Full,
		Written:     res.Written,
		Deleted:     res.Deleted,
		Unchanged:   res.Unchanged,
		Failed:      res.Failed,
		Duration:    res.Duration,
	}
	if err != nil {
		data.Error = err.Error()
	}

	h.mu.Lock()
	h.stats.Syncs++
	h.stats.KeysWritten += res.Written
	h.stats.KeysDeleted += res.Deleted
	h.stats.LastSync = res.Started
	if err != nil {
		h.stats.Failures++
		h.stats.LastError = err.Error()
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Printf("Sync failed (%s): %v", res.Trigger, err)
	} else {
		h.logger.Printf("Sync complete (%s): %s", res.Trigger, res)
	}

	h.send(MessageTypeSyncComplete, data)
	for _, key := range res.Keys {
		h.send(MessageTypeKeySynced, KeySyncedData{
			Key:  key,
			From: res.Source.String(),
			To:   res.Destination().String(),
		})
	}
	h.server.Broadcast(h.statsMessage())
}

// MonitorChanged implements sync.Listener.
func (h *Handler) MonitorChanged(monitored []string) {
	keys := append([]string{}, monitored...)

	h.mu.Lock()
	h.stats.Monitored = keys
	h.mu.Unlock()

	h.logger.Printf("Monitoring %d keys", len(keys))
	h.send(MessageTypeMonitor, MonitorData{Keys: keys})
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stats
	s.Monitored = append([]string{}, h.stats.Monitored...)
	return s
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
