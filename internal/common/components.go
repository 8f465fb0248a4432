package common

const (
	ComponentMaintenance = "maintenance"
	ComponentAPI         = "api"
	ComponentEngine      = "engine"
	ComponentSyncSource  = "sync-source"
	ComponentMerger      = "merger"
)

var AllComponents = map[string]struct{}{
	ComponentMaintenance: {},
	ComponentAPI:         {},
	ComponentEngine:      {},
	ComponentSyncSource:  {},
	ComponentMerger:      {},
}
