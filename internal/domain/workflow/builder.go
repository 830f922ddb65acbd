package workflow

import "fmt"

// TableBuilder collects role-gated transitions before freezing them into a Table
type TableBuilder interface {
	// Configure returns the configuration for transitions leaving the given status
	Configure(from Status) StatusConfiguration

	// Build freezes the configured transitions
	Build() *Table
}

// StatusConfiguration configures the targets reachable from one status
type StatusConfiguration interface {
	// Permit allows the role to move to each of the targets
	Permit(role Role, targets ...Status) StatusConfiguration
}

type statusConfig struct {
	from    Status
	targets map[Role][]Status
}

type tableBuilder struct {
	configurations map[Status]*statusConfig
}

// NewBuilder creates a new transition table builder
func NewBuilder() TableBuilder {
	return &tableBuilder{
		configurations: make(map[Status]*statusConfig),
	}
}

// Configure panics on statuses outside the enumeration; tables are built at init time
func (b *tableBuilder) Configure(from Status) StatusConfiguration {
	if !from.IsValid() {
		panic(fmt.Sprintf("invalid status: %s", from))
	}
	if from.IsTerminal() {
		panic(fmt.Sprintf("terminal status cannot have transitions: %s", from))
	}

	config, exists := b.configurations[from]
	if !exists {
		config = &statusConfig{
			from:    from,
			targets: make(map[Role][]Status),
		}
		b.configurations[from] = config
	}
	return config
}

func (c *statusConfig) Permit(role Role, targets ...Status) StatusConfiguration {
	if !role.IsValid() {
		panic(fmt.Sprintf("invalid role: %s", role))
	}
	for _, to := range targets {
		if !to.IsValid() {
			panic(fmt.Sprintf("invalid target status: %s", to))
		}
		if to == c.from {
			panic(fmt.Sprintf("self transition on %s", to))
		}
		if !containsStatus(c.targets[role], to) {
			c.targets[role] = append(c.targets[role], to)
		}
	}
	return c
}

// Build deep copies the configuration so later builder calls cannot leak in
func (b *tableBuilder) Build() *Table {
	edges := make(map[Status]map[Role][]Status, len(b.configurations))
	for from, config := range b.configurations {
		byRole := make(map[Role][]Status, len(config.targets))
		for role, targets := range config.targets {
			byRole[role] = append([]Status{}, targets...)
		}
		edges[from] = byRole
	}
	return &Table{edges: edges}
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
