// Package extract turns fetched HTML into entity stubs and snapshot records.
// Every extraction is total: a locator that matches nothing, or cannot be
// evaluated at all, yields crawler.NotAvailable instead of an error.
package extract
