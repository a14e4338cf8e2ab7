// Package device holds the small interfaces that let a hart, the CLINT
// and the PLIC reach each other and the devices hanging off the bus
// without a direct dependency cycle.
//
// Copyright (c) 2024, the rvvp authors.
//
// Permission is hereby granted, free of charge, to any person obtaining a
// copy of this software and associated documentation files (the "Software"),
// to deal in the Software without restriction, including without limitation
// the rights to use, copy, modify, merge, publish, distribute, sublicense,
// and/or sell copies of the Software, and to permit persons to whom the
// Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
package device

// ClintTarget is the per-hart interface CLINT uses to deliver timer
// and software interrupts.
type ClintTarget interface {
	TriggerTimerInterrupt(status bool)
	TriggerSoftwareInterrupt(status bool)
}

// ExternalInterruptTarget is the per-hart interface the PLIC uses to
// assert or clear the external interrupt line.
type ExternalInterruptTarget interface {
	TriggerExternalInterrupt()
	ClearExternalInterrupt()
}

// InterruptGateway is implemented by any device that can raise a PLIC
// source.
type InterruptGateway interface {
	GatewayTriggerInterrupt(irqID uint32)
}
