// Package connection is the device-facing side of a bus client.
//
// A Connection owns the devices of one instance: it mints a stable uuid
// per internal id and persists the mapping, announces devices on the bus,
// and runs the single dispatch loop that routes directed commands to the
// command handler and events to the event handler. It also resolves the
// controller device from the inventory, for operations such as naming
// devices and setting global variables.
//
// The Connection works with any transport.Transport; broker specifics stay
// inside the transport packages.
//
//	conn, err := connection.New(ctx, connection.Options{
//	    Instance:  "zwave",
//	    Transport: tr,
//	    Store:     store,
//	    Logger:    log,
//	})
//	conn.SetCommandHandler(func(ctx context.Context, internalID string, content envelope.Map) (connection.Reply, error) {
//	    return connection.EnvelopeReply(envelope.Success("", nil)), nil
//	})
//	if err := conn.Start(ctx); err != nil {
//	    return err
//	}
//	conn.AddDevice(ctx, "node-7", "switch", "")
//	return conn.Run(ctx)
package connection
