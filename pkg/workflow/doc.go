// Package workflow implements the contract approval workflow engine.
//
// A contract is created in DRAFT and reviewed on two independent tracks,
// LEGAL and FINANCE. Tracks may be requested in parallel or one after the
// other; the engine only forbids a second open track of the same type and
// computes the contract status from the latest track of each required type
// (see DeriveStatus). A LEGAL track can be escalated once per review cycle
// from the reviewing manager to the legal head.
//
// Every operation:
//
//  1. loads the contract and its tracks inside one store transaction,
//  2. checks the caller's expected version (Conflict on mismatch),
//  3. asks the PermissionOracle for the capability (Forbidden on denial),
//  4. evaluates the transition guard (InvalidState),
//  5. applies the mutation, re-derives the status and writes the contract
//     with a compare-and-swap on its version,
//  6. appends exactly one AuditEntry in the same transaction.
//
// After commit a Notification is handed to the configured Notifier. Nothing
// is retried internally; every failure is a *Error carrying its class.
package workflow
