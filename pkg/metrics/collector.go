package metrics

import "time"

// AgentCounter reports how many agents are currently connected to the
// server router. Implemented by *server.Router.
type AgentCounter interface {
	ConnectedAgentCount() int
}

// QueueDepther reports the depth of the dependency scheduler's pending
// queues. Implemented by *scheduler.Queue.
type QueueDepther interface {
	StartQueueDepth() int
	DeleteQueueDepth() int
}

// Collector periodically samples gauges that are cheap to read but
// expensive to update on every mutation (queue depths, agent counts).
type Collector struct {
	agents  AgentCounter
	queue   QueueDepther
	stopCh  chan struct{}
	started bool
}

// NewCollector creates a metrics collector over the given router and
// scheduler queue. Either may be nil, in which case that sample is
// skipped.
func NewCollector(agents AgentCounter, queue QueueDepther) *Collector {
	return &Collector{
		agents: agents,
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic sampling.
func (c *Collector) Start() {
	if c.started {
		return
	}
	c.started = true
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.agents != nil {
		AgentsConnectedTotal.Set(float64(c.agents.ConnectedAgentCount()))
	}
	if c.queue != nil {
		SchedulerQueueDepth.WithLabelValues("start").Set(float64(c.queue.StartQueueDepth()))
		SchedulerQueueDepth.WithLabelValues("delete").Set(float64(c.queue.DeleteQueueDepth()))
	}
}
