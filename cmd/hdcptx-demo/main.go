// Command hdcptx-demo runs a simulated HDCP 1.x transmitter authentication
// against a simulated downstream receiver, logging every state transition.
// It exists to exercise the hdcp1x FSM end to end without real DDC/USB
// hardware attached; see the ddc and usbddc packages for the real Port
// adapters this would otherwise be wired to.
package main

import (
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/usbarmory/hdcp1x/audit"
	"github.com/usbarmory/hdcp1x/hdcp1x"
	"github.com/usbarmory/hdcp1x/sim"
)

func main() {
	loadEnv()

	logger := log.New(os.Stdout, "hdcptx-demo: ", log.LstdFlags)

	repeater := envBool("HDCPTX_REPEATER", false)
	downstream := envUint64("HDCPTX_REPEATER_DEVICES", 2)
	maxDevsExceeded := envBool("HDCPTX_MAX_DEVS_EXCEEDED", false)
	maxCascadeExceeded := envBool("HDCPTX_MAX_CASCADE_EXCEEDED", false)
	isHDMI := envBool("HDCPTX_HDMI", true)
	auditPath := envString("HDCPTX_AUDIT_DB", "")

	txCipher := &sim.Cipher{OwnKSV: validKSV(0x0123456789)}
	rxCipher := &sim.Cipher{OwnKSV: validKSV(0x9876543210)}

	receiver := sim.NewReceiver(rxCipher)
	receiver.BKSV = rxCipher.OwnKSV
	receiver.Capable = true
	receiver.Repeater = repeater
	receiver.MaxDevsExceeded = maxDevsExceeded
	receiver.MaxCascadeExceeded = maxCascadeExceeded
	if repeater {
		for i := uint64(0); i < downstream; i++ {
			receiver.Downstream = append(receiver.Downstream, validKSV(0xabc000+i))
		}
	}

	config := &hdcp1x.Config{DeviceId: 0, IsHDMI: isHDMI}

	var tx *hdcp1x.TxInstance
	platform := sim.NewPlatform(func() {
		if tx != nil {
			tx.HandleTimeout()
		}
	})

	var err error
	tx, err = hdcp1x.NewTxInstance(config, txCipher, receiver, platform, logger)
	if err != nil {
		logger.Fatalf("new instance: %v", err)
	}

	if auditPath != "" {
		auditLog, err := audit.Open(auditPath)
		if err != nil {
			logger.Fatalf("open audit log: %v", err)
		}
		defer auditLog.Close()
		tx.OnTransition(auditLog.Transitions(tx))
	}

	tx.OnTransition(func(from, to hdcp1x.State) {
		logger.Printf("%s -> %s", from, to)
	})

	// The physical link starts out down, and Authenticate is ignored while
	// Disabled: report the link up, then let Enable take effect first.
	tx.SetPhysicalState(true)
	tx.Poll()
	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tx.Poll()
		if tx.IsAuthenticated() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if tx.IsAuthenticated() {
		logger.Printf("authenticated, state=%s stats=%+v", tx.State(), tx.Stats())
	} else {
		logger.Printf("did not authenticate within deadline, state=%s stats=%+v", tx.State(), tx.Stats())
		os.Exit(1)
	}
}

// validKSV returns the low 40 bits of seed with randomly chosen bits among
// those 40 toggled until exactly 20 are set, so demo KSVs pass
// hdcp1x.IsKSVValid without a hardcoded constant list.
func validKSV(seed uint64) uint64 {
	v := seed & (1<<40 - 1)
	for popcount40(v) != 20 {
		bit := uint(rand.Intn(40))
		v ^= 1 << bit
	}
	return v
}

func popcount40(v uint64) int {
	n := 0
	for i := 0; i < 40; i++ {
		if v&(1<<uint(i)) != 0 {
			n++
		}
	}
	return n
}
