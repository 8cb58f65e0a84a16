package ping

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

var (
	ipv4Network = map[bool]string{true: "ip4:icmp", false: "udp4"}
	ipv6Network = map[bool]string{true: "ip6:ipv6-icmp", false: "udp6"}
)

// ICMPPinger sends echo requests over an ICMP socket. Privileged mode uses
// raw sockets; otherwise unprivileged datagram ICMP is used, where the kernel
// rewrites the echo ID, so replies are matched on sequence and payload.
type ICMPPinger struct {
	privileged bool
	resolver   *Resolver
	id         int
	tracker    []byte
	seq        atomic.Uint32
}

// NewICMPPinger creates an ICMPPinger.
func NewICMPPinger(privileged bool, resolver *Resolver) *ICMPPinger {
	tracker, _ := uuid.New().MarshalBinary()
	return &ICMPPinger{
		privileged: privileged,
		resolver:   resolver,
		id:         rand.Intn(0xffff),
		tracker:    tracker,
	}
}

// Ping sends one echo request and waits at most timeout for its reply.
func (p *ICMPPinger) Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
	ip, err := p.resolver.Resolve(ctx, address)
	if err != nil {
		return 0, err
	}

	network, proto := ipv4Network[p.privileged], protocolICMP
	echoType, replyType := icmp.Type(ipv4.ICMPTypeEcho), icmp.Type(ipv4.ICMPTypeEchoReply)
	if ip.To4() == nil {
		network, proto = ipv6Network[p.privileged], protocolIPv6ICMP
		echoType, replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
	}

	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return 0, fmt.Errorf("listen %s: %w", network, err)
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: p.tracker},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if !p.privileged {
		dst = &net.UDPAddr{IP: ip}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(payload, dst); err != nil {
		return 0, fmt.Errorf("send echo to %s: %w", ip, err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, fmt.Errorf("no reply from %s within %v", ip, timeout)
			}
			return 0, err
		}
		if !peerMatches(peer, ip) {
			continue
		}
		parsed, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil || parsed.Type != replyType {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		if echo.Seq == seq && bytes.Equal(echo.Data, p.tracker) {
			return time.Since(start), nil
		}
	}
}

func peerMatches(peer net.Addr, ip net.IP) bool {
	switch a := peer.(type) {
	case *net.IPAddr:
		return a.IP == nil || a.IP.Equal(ip)
	case *net.UDPAddr:
		return a.IP == nil || a.IP.Equal(ip)
	default:
		return true
	}
}
