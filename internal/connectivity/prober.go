package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"guidesync/internal/guide"
)

// Prober is a Monitor that periodically issues an HTTP HEAD against a
// probe URL. Any response at all counts as online — even a server error
// proves the link is up; whether individual sync requests succeed is the
// sync manager's problem. Only a transport failure counts as offline.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   guide.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]func()
	nextID int

	stop chan struct{}
	done chan struct{}
}

// NewProber creates a Prober. It does not probe until Start is called;
// until then Online reports false.
func NewProber(url string, interval, timeout time.Duration, logger guide.Logger) *Prober {
	return &Prober{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		subs:     make(map[int]func()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start probes once immediately, then on every interval tick, until Stop.
func (p *Prober) Start() {
	go func() {
		defer close(p.done)
		p.observe(p.probe())

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.observe(p.probe())
			}
		}
	}()
}

// Stop halts probing and waits for the probe goroutine to exit.
func (p *Prober) Stop() {
	close(p.stop)
	<-p.done
}

// Online reports the result of the most recent probe.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Subscribe registers fn for offline→online transitions and returns a disposer.
func (p *Prober) Subscribe(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// probe reports whether the probe URL is reachable.
func (p *Prober) probe() bool {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// observe records a probe result and fires subscribers on an
// offline→online transition. Callbacks run sequentially on the probe
// goroutine and must not block.
func (p *Prober) observe(online bool) {
	p.mu.Lock()
	transition := online && !p.online
	p.online = online
	var fns []func()
	if transition {
		for _, fn := range p.subs {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	if transition {
		p.logger.Info("connectivity restored", "probe", p.url)
	}
	for _, fn := range fns {
		fn()
	}
}

// Compile-time check that Prober implements guide.Monitor
var _ guide.Monitor = (*Prober)(nil)
