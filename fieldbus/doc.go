// Package fieldbus defines the contract between the rig controller and a fieldbus master
// implementation.
//
// The controller never touches the process image memory directly. A Driver hands out a
// ProcessImage accessor once the master is activated, and the controller reads and writes
// process data through byte offsets obtained from RegisterPdoEntries.
//
// Two drivers ship with the module:
//
//   - simbus: an in-memory master with a hydraulic plant model, used by tests and demos.
//   - modbusgw: a Modbus-TCP bus-coupler gateway that mirrors the process image over registers.
//
// The cyclic exchange sequence expected by drivers is
//
//	Receive -> ProcessDomain -> (application reads/writes) -> QueueDomain -> Send
package fieldbus
