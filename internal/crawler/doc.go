// Package crawler defines the domain types and collaborator interfaces shared
// by the snapshot pipeline: entity stubs, snapshot records, fetched documents,
// and the fetcher/store contracts the pipeline is wired against.
package crawler
