package discord

import (
	"encoding/binary"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// pausePoll is how often a paused player rechecks its flags.
const pausePoll = 5 * time.Millisecond

// player streams one raw PCM artifact onto a voice connection, frame by
// frame. It is single-use: a stop, restart, or new input replaces it with a
// fresh player. Pause and mute are flags the loop consults per frame.
type player struct {
	chatID   string
	path     string
	conn     voiceConn
	enc      opusEncoder
	frameDur time.Duration

	mu     sync.Mutex
	paused bool
	muted  bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newPlayer(chatID, path string, conn voiceConn, enc opusEncoder, muted bool) *player {
	return &player{
		chatID:   chatID,
		path:     path,
		conn:     conn,
		enc:      enc,
		frameDur: frameDur,
		muted:    muted,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start launches the playout loop.
func (p *player) start() {
	go p.run()
}

// halt stops the loop and waits for it to finish.
func (p *player) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *player) setPaused(v bool) {
	p.mu.Lock()
	p.paused = v
	p.mu.Unlock()
}

func (p *player) setMuted(v bool) {
	p.mu.Lock()
	p.muted = v
	p.mu.Unlock()
}

func (p *player) flags() (paused, muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, p.muted
}

// run reads the artifact in 20 ms PCM frames, encodes each to Opus, and
// pushes it onto the connection. The send channel is paced by the engine's
// own frame clock; muted frames are paced locally instead of sent.
func (p *player) run() {
	defer close(p.done)

	f, err := os.Open(p.path)
	if err != nil {
		log.Printf("discord voice: chat %s: open artifact: %v", p.chatID, err)
		return
	}
	defer f.Close()

	if err := p.conn.Speaking(true); err != nil {
		log.Printf("discord voice: chat %s: speaking on: %v", p.chatID, err)
	}
	defer func() {
		if err := p.conn.Speaking(false); err != nil {
			log.Printf("discord voice: chat %s: speaking off: %v", p.chatID, err)
		}
	}()

	buf := make([]byte, frameBytes)
	pcm := make([]int16, frameSamples*channels)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		paused, muted := p.flags()
		if paused {
			select {
			case <-p.stop:
				return
			case <-time.After(pausePoll):
			}
			continue
		}

		n, err := io.ReadFull(f, buf)
		if err == io.EOF {
			log.Printf("discord voice: chat %s: playout finished", p.chatID)
			return
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			log.Printf("discord voice: chat %s: read artifact: %v", p.chatID, err)
			return
		}
		// Zero-pad a trailing partial frame.
		for i := n; i < frameBytes; i++ {
			buf[i] = 0
		}
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
		}

		if muted {
			// Position keeps advancing; the frame is paced but not sent.
			select {
			case <-p.stop:
				return
			case <-time.After(p.frameDur):
			}
			continue
		}

		frame, encErr := p.enc.Encode(pcm, frameSamples, maxOpusBytes)
		if encErr != nil {
			log.Printf("discord voice: chat %s: encode frame: %v", p.chatID, encErr)
			return
		}

		select {
		case <-p.stop:
			return
		case p.conn.OpusSend() <- frame:
		}

		if err == io.ErrUnexpectedEOF {
			log.Printf("discord voice: chat %s: playout finished", p.chatID)
			return
		}
	}
}
