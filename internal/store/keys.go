package store

import "fmt"

// Persisted layout: one entity bitmap, one presence bitmap and one data hash
// per component type, and one hash holding the channel<->entity binding.
const (
	entityMapKey = "entities"
	channelsKey  = "channels"
)

func presenceKey(ct *ComponentType) string {
	return fmt.Sprintf("c:%d:map", ct.Key)
}

func dataKey(ct *ComponentType) string {
	return fmt.Sprintf("c:%d:data", ct.Key)
}

func channelField(id string) string {
	return "c:" + id
}

func entityField(e EntityID) string {
	return fmt.Sprintf("e:%d", e)
}
