package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// DiscoveredGateway is one vehicle-announcement-message response to a
// vehicle-identification-request broadcast (spec.md §6.4: VIR/VAM).
type DiscoveredGateway struct {
	IP              net.IP
	VIN             string
	LogicalAddress  uint16
	EID             [6]byte
	GID             [6]byte
}

// DiscoveryConfig configures a VIR broadcast.
type DiscoveryConfig struct {
	BroadcastAddr string // default "255.255.255.255:13400"
	Timeout       time.Duration
}

func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = "255.255.255.255:13400"
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	return c
}

// DiscoverGateways broadcasts a DoIP vehicle-identification-request on UDP
// port 13400 and collects vehicle-announcement-message replies until ctx
// or the configured timeout elapses (spec.md §6.4).
func DiscoverGateways(ctx context.Context, cfg DiscoveryConfig) ([]DiscoveredGateway, error) {
	cfg = cfg.withDefaults()

	raddr, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("doip discovery: resolve broadcast addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("doip discovery: listen: %w", err)
	}
	defer conn.Close()

	header := make([]byte, 8)
	header[0] = doipVersion
	header[1] = ^byte(doipVersion)
	binary.BigEndian.PutUint16(header[2:4], doipVehicleIDRequest)
	binary.BigEndian.PutUint32(header[4:8], 0)
	if _, err := conn.WriteToUDP(header, raddr); err != nil {
		return nil, fmt.Errorf("doip discovery: send VIR: %w", err)
	}

	deadline := time.Now().Add(cfg.Timeout)
	conn.SetReadDeadline(deadline)

	var gateways []DiscoveredGateway
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return gateways, nil
		default:
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return gateways, nil // timeout or closed: return what we have
		}
		if n < 8 {
			continue
		}
		ptype := binary.BigEndian.Uint16(buf[2:4])
		length := binary.BigEndian.Uint32(buf[4:8])
		if ptype != doipVehicleAnnouncement || int(length) > n-8 {
			continue
		}
		payload := buf[8 : 8+length]
		gw, ok := parseVAM(payload, addr.IP)
		if ok {
			gateways = append(gateways, gw)
		}
	}
}

// parseVAM decodes a vehicle-announcement-message payload: VIN(17) +
// logical address(2) + EID(6) + GID(6) + further-action(1) [+ sync(1)].
func parseVAM(payload []byte, ip net.IP) (DiscoveredGateway, bool) {
	if len(payload) < 32 {
		return DiscoveredGateway{}, false
	}
	gw := DiscoveredGateway{IP: ip, VIN: string(payload[0:17])}
	gw.LogicalAddress = binary.BigEndian.Uint16(payload[17:19])
	copy(gw.EID[:], payload[19:25])
	copy(gw.GID[:], payload[25:31])
	return gw, true
}
