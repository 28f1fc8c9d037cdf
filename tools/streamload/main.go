// Command streamload opens many subscribers on the allocation stream and checks
// every snapshot it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	snapshots   atomic.Int64
	invalid     atomic.Int64
}

func main() {
	var (
		targetURL    string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
		after        uint64
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8090/allocations/stream", "allocation stream URL")
	flag.IntVar(&connections, "conns", 200, "number of concurrent subscribers")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread subscriber starts across this window")
	flag.Uint64Var(&after, "after", 0, "replay history after this index")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}
	if rampUp == 0 && connections > 100 {
		rampUp = time.Duration(connections/500+1) * time.Second
		log.Printf("no ramp-up given, using %s", rampUp)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if testDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, testDuration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	log.Printf("starting allocation stream load: url=%s conns=%d duration=%s ramp=%s", targetURL, connections, testDuration, rampUp)

	var (
		c     counters
		wg    sync.WaitGroup
		start = time.Now()
		gap   time.Duration
	)
	if rampUp > 0 {
		gap = rampUp / time.Duration(connections)
	}

	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && gap > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(gap):
			}
			if ctx.Err() != nil {
				break
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, targetURL, after, &c)
		}()
	}

	go report(ctx, start, &c)

	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d snapshots=%d invalid=%d elapsed=%s snapshots/s=%.2f\n",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.snapshots.Load(), c.invalid.Load(),
		elapsed.Truncate(time.Millisecond), float64(c.snapshots.Load())/elapsed.Seconds())
}

func subscribe(ctx context.Context, client *http.Client, url string, after uint64, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if after > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprint(after))
	}

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	err = readFrames(resp.Body, func(f frame) {
		if f.event != "allocation" {
			return
		}
		if _, err := f.snapshot(); err != nil {
			c.invalid.Add(1)
			log.Printf("invalid snapshot id=%s: %v", f.id, err)
			return
		}
		c.snapshots.Add(1)
	})
	if err != nil && ctx.Err() == nil {
		c.streamErrs.Add(1)
	}
}

func report(ctx context.Context, start time.Time, c *counters) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("status: connected=%d connect_errs=%d stream_errs=%d snapshots=%d invalid=%d elapsed=%s",
				c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.snapshots.Load(), c.invalid.Load(),
				time.Since(start).Truncate(time.Second))
		}
	}
}
