// Package infra contains technical adapters such as the ChirpStack client,
// the shared-database reader and metrics exporters. These packages should
// depend only on the interfaces defined in the core packages.
package infra
