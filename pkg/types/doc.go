// Package types defines the contracts shared across the data-binding layer:
// the Transport and Submitter interfaces, the Model contract the Data Source
// works with, query descriptors, result groups, the offline storage hook,
// configuration and the standard errors.
package types
