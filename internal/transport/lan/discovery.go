package lan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"shayeb/internal/protocol"
)

// DiscoveryRequest is the fixed probe string clients send to find rooms.
const DiscoveryRequest = "SHAYEB_DISCOVER_V1"

// startDiscovery binds the UDP responder and starts the periodic broadcast
// advertisement. Hosting proceeds without discovery if the port is taken.
func (h *host) startDiscovery() {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", h.cfg.DiscoveryPort))
	if err != nil {
		h.log.Warnw("discovery disabled, port unavailable", "port", h.cfg.DiscoveryPort, "err", err)
		return
	}
	h.discovery = pc
	go h.serveDiscovery(pc)
	go h.advertiseLoop(pc)
}

// serveDiscovery answers directed probes so clients get a reply even when
// general broadcast is firewalled on one side.
func (h *host) serveDiscovery(pc net.PacketConn) {
	buf := make([]byte, 2048)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if !bytes.Equal(bytes.TrimSpace(buf[:n]), []byte(DiscoveryRequest)) {
			continue
		}
		data, err := json.Marshal(h.roomInfo())
		if err != nil {
			continue
		}
		if _, err := pc.WriteTo(data, addr); err != nil {
			h.log.Debugw("discovery reply failed", "to", addr.String(), "err", err)
		}
	}
}

func (h *host) advertiseLoop(pc net.PacketConn) {
	bcast := &net.UDPAddr{IP: net.IPv4bcast, Port: h.cfg.DiscoveryPort}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(h.roomInfo())
			if err != nil {
				continue
			}
			// Best effort; directed probes cover networks that eat broadcast.
			_, _ = pc.WriteTo(data, bcast)
		}
	}
}

// Discover probes the LAN for open rooms and collects replies until the
// context expires. Duplicate answers for the same room are merged.
func Discover(ctx context.Context, discoveryPort int) ([]protocol.RoomInfo, error) {
	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("lan: discovery socket: %w", err)
	}
	defer pc.Close()

	probe := []byte(DiscoveryRequest)
	targets := []net.Addr{
		&net.UDPAddr{IP: net.IPv4bcast, Port: discoveryPort},
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: discoveryPort},
	}
	for _, t := range targets {
		_, _ = pc.WriteTo(probe, t)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	_ = pc.SetReadDeadline(deadline)

	found := map[string]protocol.RoomInfo{}
	order := []string{}
	buf := make([]byte, 4096)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			break // deadline or closed socket ends collection
		}
		var info protocol.RoomInfo
		if jsonErr := json.Unmarshal(buf[:n], &info); jsonErr != nil || info.RoomID == "" {
			continue
		}
		if info.HostAddress == "" {
			if udp, isUDP := addr.(*net.UDPAddr); isUDP {
				info.HostAddress = udp.IP.String()
			}
		}
		if _, seen := found[info.RoomID]; !seen {
			order = append(order, info.RoomID)
		}
		found[info.RoomID] = info
	}

	rooms := make([]protocol.RoomInfo, 0, len(found))
	for _, id := range order {
		rooms = append(rooms, found[id])
	}
	return rooms, nil
}
