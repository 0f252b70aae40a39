// Package web3 holds the ledger-facing helpers used when a booking is quoted:
// chain snapshots for payment references, payee address validation and
// amount encoding. Settlement itself happens in the caller's payment flow.
package web3
