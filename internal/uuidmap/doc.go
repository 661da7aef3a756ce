// Package uuidmap persists the uuid to internal id map of one bus instance.
//
// The map is the source of identity across restarts: a device registered
// again with the same internal id after a restart keeps its uuid. Two
// backends exist. FileStore writes a JSON object per instance, compatible
// with the uuidmap/<instance>.json files other bus clients use. SQLiteStore
// keeps the map in the registry database.
//
// Stores always persist the complete map; there is no incremental update.
package uuidmap
