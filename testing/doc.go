// Package testing holds shared test tooling for vkflow.
//
// The mocks subpackage provides testify-based mocks for the collaborators a
// session and a task depend on: the recoverer, authorizator, presenters and
// token storage.
//
// The containers subpackage starts Redis and PostgreSQL with testcontainers
// for the token storage integration tests. It is compiled only with the
// integration build tag:
//
//	go test -tags=integration ./token/...
package testing
