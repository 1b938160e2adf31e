// Package networking implements the networking controller of a Bluetooth
// mesh node: the pipeline between access messages and encrypted network PDUs.
//
// The Controller owns the sequence number and IV index state, the replay
// protection list, segmentation and reassembly, the single reliable message
// slot, the paced outbound queue, proxy filter negotiation and beacon
// handling. Outbound PDUs and upward events are delivered through a Bridge.
//
// Usage:
//
//	ctrl, err := networking.NewController(networking.Config{
//	    Bridge:        bridge,
//	    LoggerFactory: logging.NewDefaultLoggerFactory(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	if err := ctrl.Setup(meshConfig); err != nil {
//	    return err
//	}
//	err = ctrl.SendMeshMessage(networking.NewMeshMessage(0x0002, 0x8201, nil))
//
// Every method is safe for concurrent use. Bridge callbacks are invoked
// without the controller lock held and in the order the events occurred, so
// a bridge may call back into the controller.
package networking
