package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventRunStarted   = "run_started"
	EventNodeStarted  = "node_started"
	EventNodeFinished = "node_finished"
	EventRunFinished  = "run_finished"
)

// RunEvent is streamed to run subscribers while a stored workflow executes.
type RunEvent struct {
	Type       string         `json:"type"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	NodeType   string         `json:"node_type,omitempty"`
	Status     string         `json:"status,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	TS         int64          `json:"ts"`
}

// RunEventHub fans run events out per run ID. Each run keeps a bounded replay
// buffer so a client that subscribes after StartRun returned still sees the
// whole run; only the most recent maxRuns runs are remembered.
type RunEventHub struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]map[chan RunEvent]struct{}
	replay    map[uuid.UUID][]RunEvent
	runs      []uuid.UUID
	maxReplay int
	maxRuns   int
}

func NewRunEventHub() *RunEventHub {
	return &RunEventHub{
		subs:      map[uuid.UUID]map[chan RunEvent]struct{}{},
		replay:    map[uuid.UUID][]RunEvent{},
		maxReplay: 200,
		maxRuns:   100,
	}
}

// Subscribe returns a channel of events for runID, starting with the replay
// buffer. cancel must be called exactly once.
func (h *RunEventHub) Subscribe(runID uuid.UUID) (<-chan RunEvent, func()) {
	ch := make(chan RunEvent, 64)

	h.mu.Lock()
	if _, ok := h.subs[runID]; !ok {
		h.subs[runID] = map[chan RunEvent]struct{}{}
	}
	// Replay is queued under the lock so live events cannot overtake it.
	for _, evt := range h.replay[runID] {
		select {
		case ch <- evt:
		default:
		}
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if m, ok := h.subs[runID]; ok {
				delete(m, ch)
				if len(m) == 0 {
					delete(h.subs, runID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *RunEventHub) Publish(runID uuid.UUID, evt RunEvent) {
	if evt.TS == 0 {
		evt.TS = time.Now().UTC().UnixMilli()
	}
	if evt.RunID == "" {
		evt.RunID = runID.String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, seen := h.replay[runID]; !seen {
		h.runs = append(h.runs, runID)
		if len(h.runs) > h.maxRuns {
			delete(h.replay, h.runs[0])
			h.runs = h.runs[1:]
		}
	}
	buf := append(h.replay[runID], evt)
	if len(buf) > h.maxReplay {
		buf = buf[len(buf)-h.maxReplay:]
	}
	h.replay[runID] = buf

	for ch := range h.subs[runID] {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; the event stays in the replay buffer.
		}
	}
}
