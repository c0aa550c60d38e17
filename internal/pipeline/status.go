package pipeline

import (
	"time"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/monitoring"
)

// Run states reported by Status
const (
	RunIdle     = "idle"
	RunRunning  = "running"
	RunStopping = "stopping"
	RunStopped  = "stopped"
)

// Status is a point-in-time view of a pipeline
type Status struct {
	RunID     string          `json:"run_id"`
	Name      string          `json:"name"`
	State     string          `json:"state"`
	StartedAt time.Time       `json:"started_at,omitempty"`
	Pools     []PoolStatus    `json:"pools"`
	Channels  []ChannelStatus `json:"channels"`
	Spilled   int             `json:"spilled"`
}

// PoolStatus describes one pool
type PoolStatus struct {
	Role      Role         `json:"role"`
	Processes int          `json:"processes"`
	Live      int          `json:"live"`
	Workers   []WorkerInfo `json:"workers"`
	Stats     PoolStats    `json:"stats"`
}

// ChannelStatus describes one channel
type ChannelStatus struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
	Cap  int    `json:"cap"`
}

// Report summarizes a run
type Report struct {
	RunID    string        `json:"run_id"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Roles    []RoleReport  `json:"roles"`
}

// RoleReport summarizes the pool of one role
type RoleReport struct {
	PoolStats
	Latency monitoring.LatencySummary `json:"latency"`
}

// Status returns pool, worker and channel snapshots
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		RunID:     c.runID.String(),
		Name:      c.cfg.QueueName,
		State:     c.stateLocked(),
		StartedAt: c.startedAt,
	}
	started := c.started
	c.mu.Unlock()

	for _, role := range Roles {
		ps := PoolStatus{
			Role:      role,
			Processes: c.cfg.Pool(role).Processes,
		}
		if started {
			pool := c.pools[role]
			ps.Live = pool.WorkerCount()
			ps.Workers = pool.Workers()
			ps.Stats = pool.Stats()
		} else {
			ps.Stats.Role = role
		}
		st.Pools = append(st.Pools, ps)
	}

	if started {
		for _, ch := range c.channels {
			st.Channels = append(st.Channels, ChannelStatus{Name: ch.Name(), Len: ch.Len(), Cap: ch.Cap()})
		}
		if n, err := c.spool.Count(); err == nil {
			st.Spilled = n
		}
	}

	return st
}

// Report returns per-role totals and hook latency
func (c *Coordinator) Report() Report {
	c.mu.Lock()
	r := Report{
		RunID: c.runID.String(),
		Name:  c.cfg.QueueName,
	}
	started := c.started
	switch {
	case !started:
	case c.stoppedAt.IsZero():
		r.Duration = time.Since(c.startedAt)
	default:
		r.Duration = c.stoppedAt.Sub(c.startedAt)
	}
	c.mu.Unlock()

	for _, role := range Roles {
		rr := RoleReport{
			PoolStats: PoolStats{Role: role},
			Latency:   c.metrics.Latency(role.String()),
		}
		if started {
			rr.PoolStats = c.pools[role].Stats()
		}
		r.Roles = append(r.Roles, rr)
	}
	return r
}

func (c *Coordinator) stateLocked() string {
	switch {
	case !c.started:
		return RunIdle
	case !c.stoppedAt.IsZero():
		return RunStopped
	case c.stopping:
		return RunStopping
	default:
		return RunRunning
	}
}
