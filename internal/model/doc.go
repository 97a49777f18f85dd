// Package model defines the core data types shared by every component of
// the aquifer engine: sensor readings, nodes, time windows, aggregates,
// sync cursors and anomaly records.
//
// The types here carry no behavior beyond validation and conversion; all
// storage and computation lives in the component packages.
package model
