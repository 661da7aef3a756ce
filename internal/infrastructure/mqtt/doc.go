// Package mqtt provides MQTT client connectivity for the bus client.
//
// This package manages:
//   - Connection to the broker with bounded initial connect and auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Connection health monitoring
//
// It knows nothing about envelopes or request correlation; the MQTT
// transport in internal/transport/mqtt builds those on top of Client.
//
// # Topic Layout
//
//	com.agocontrol/legacy           shared bus topic
//	com.agocontrol/<conn-uuid>/<n>  private reply topics
//
// # Security Considerations
//
//   - Enable TLS for any broker reachable beyond localhost (cfg.Broker.TLS=true)
//   - Credentials are passed through to the broker; ACLs are the broker's job
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Shared(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
