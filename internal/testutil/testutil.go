// Package testutil provides test helpers for tilevault tests.
//
//   - assert.go: MustNoErr, AssertEqualSlices and AssertStrings
//   - store_helpers.go: catalog test setup (NewTestStore)
//   - fs_helpers.go: filesystem fixtures (WriteFile, WriteImage, MustExist)
//   - storetest: a catalog Fixture with data source and reviewer
package testutil
