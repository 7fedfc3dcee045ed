package control

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/ftahirops/qplane/model"
)

// Recorder writes every snapshot it is handed as one JSON line. It
// wraps a Source so callers can record transparently while reading.
type Recorder struct {
	src    Source
	writer *json.Encoder
	mu     sync.Mutex
}

// NewRecorder creates a recorder that writes JSON lines to w.
func NewRecorder(src Source, w io.Writer) *Recorder {
	return &Recorder{
		src:    src,
		writer: json.NewEncoder(w),
	}
}

// Snapshot reads from the wrapped source and records the frame.
func (r *Recorder) Snapshot() model.ControlSnapshot {
	snap := r.src.Snapshot()
	r.Record(snap)
	return snap
}

// Record appends one frame. Encode errors are swallowed so a full
// disk cannot take the control loop down with it.
func (r *Recorder) Record(snap model.ControlSnapshot) {
	r.mu.Lock()
	if err := r.writer.Encode(snap); err != nil {
		_ = err
	}
	r.mu.Unlock()
}

// Player replays recorded snapshots as a Source.
type Player struct {
	frames []model.ControlSnapshot
	idx    int
	mu     sync.Mutex
}

// NewPlayer loads all frames from a recording (JSON lines). Malformed
// lines are skipped.
func NewPlayer(r io.Reader) (*Player, error) {
	var frames []model.ControlSnapshot
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 4*1024*1024)
	for scanner.Scan() {
		var frame model.ControlSnapshot
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &Player{frames: frames}, nil
}

// Snapshot returns the next frame, advancing the cursor. Past the end
// it keeps returning the final frame.
func (p *Player) Snapshot() model.ControlSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.frames) == 0 {
		return model.ControlSnapshot{}
	}
	if p.idx >= len(p.frames) {
		return p.frames[len(p.frames)-1]
	}
	f := p.frames[p.idx]
	p.idx++
	return f
}

// Len returns the number of frames available.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Index returns the next frame index.
func (p *Player) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx
}

// Seek moves the cursor, clamping to the recording's bounds.
func (p *Player) Seek(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i > len(p.frames) {
		i = len(p.frames)
	}
	p.idx = i
}
