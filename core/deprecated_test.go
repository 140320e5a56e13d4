package core

import "testing"

func TestSetClockDivider(t *testing.T) {
	const base = 84000000

	testCases := []struct {
		divider uint8
		want    uint32
	}{
		{divider: 0, want: DefaultClock},
		{divider: 1, want: base},
		{divider: 2, want: base / 2},
		{divider: 7, want: base / 7},
		{divider: 96, want: base / 96},
		{divider: 255, want: base / 255},
	}

	for _, tc := range testCases {
		drv := &loopbackDriver{baseClock: base}
		SetPortDriver(drv)
		bus := New(testBinding())
		if err := bus.Configure(); err != nil {
			t.Fatalf("Configure failed: %v", err)
		}

		if err := bus.SetClockDivider(tc.divider); err != nil {
			t.Fatalf("SetClockDivider(%d) failed: %v", tc.divider, err)
		}
		if got := bus.Settings().Clock; got != tc.want {
			t.Errorf("SetClockDivider(%d): clock = %d, want %d", tc.divider, got, tc.want)
		}
		// The peripheral is reprogrammed with the new frequency right away.
		last := drv.inits[len(drv.inits)-1]
		if last.clock != tc.want {
			t.Errorf("SetClockDivider(%d): peripheral programmed with %d, want %d", tc.divider, last.clock, tc.want)
		}
	}
}

func TestSetDataMode(t *testing.T) {
	drv, bus := setupLoopback(t)
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	for _, m := range []Mode{Mode0, Mode1, Mode2, Mode3} {
		if err := bus.SetDataMode(m); err != nil {
			t.Fatalf("SetDataMode(%d) failed: %v", m, err)
		}
		if got := bus.Settings().Mode; got != m {
			t.Errorf("SetDataMode(%d): cached mode = %d", m, got)
		}
		last := drv.inits[len(drv.inits)-1]
		if last.mode != m {
			t.Errorf("SetDataMode(%d): peripheral programmed with mode %d", m, last.mode)
		}
		// Only the mode moves; clock and order are untouched.
		if last.clock != DefaultClock || last.order != MSBFirst {
			t.Errorf("SetDataMode(%d) disturbed other settings: %+v", m, last)
		}
	}

	inits := len(drv.inits)
	if err := bus.SetDataMode(Mode(4)); err == nil {
		t.Error("expected error for out-of-range mode")
	}
	if bus.Settings().Mode != Mode3 {
		t.Errorf("invalid mode changed cached settings to %d", bus.Settings().Mode)
	}
	if len(drv.inits) != inits {
		t.Error("invalid mode reprogrammed the peripheral")
	}
}

func TestSetBitOrder(t *testing.T) {
	drv, bus := setupLoopback(t)
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if err := bus.SetBitOrder(LSBFirst); err != nil {
		t.Fatalf("SetBitOrder failed: %v", err)
	}
	if bus.Settings().Order != LSBFirst {
		t.Errorf("cached order = %d, want LSBFirst", bus.Settings().Order)
	}
	last := drv.inits[len(drv.inits)-1]
	if last.order != LSBFirst {
		t.Errorf("peripheral programmed with order %d, want LSBFirst", last.order)
	}

	if err := bus.SetBitOrder(BitOrder(9)); err == nil {
		t.Error("expected error for out-of-range bit order")
	}
}

func TestInterruptStubs(t *testing.T) {
	_, bus := setupLoopback(t)
	// Declared but intentionally unimplemented; must not touch the driver.
	bus.UsingInterrupt(3)
	bus.AttachInterrupt()
	bus.DetachInterrupt()
}
