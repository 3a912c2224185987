package server

import (
	"context"
	"net"
	"strconv"
)

type ClientInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func ClientInfoFromAddr(addr net.Addr) *ClientInfo {
	if addr == nil {
		return nil
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return &ClientInfo{Host: addr.String()}
	}
	port, _ := strconv.Atoi(portStr)
	return &ClientInfo{Host: host, Port: port}
}

type ConnectionNotifier interface {
	// NotifyRejected is called when the abuse guard refuses a connection.
	NotifyRejected(ctx context.Context, clientAddr net.Addr, reason RejectReason) error

	// NotifyMissingRoute is called when a handshake names a virtual host that has no endpoint.
	NotifyMissingRoute(ctx context.Context, clientAddr net.Addr, serverAddress string) error

	// NotifyFailedBackendConnection is called when the backend connection failed.
	NotifyFailedBackendConnection(ctx context.Context,
		clientAddr net.Addr, serverAddress string, backendHostPort string, err error) error

	// NotifyConnected is called when the backend connection succeeded.
	NotifyConnected(ctx context.Context,
		clientAddr net.Addr, serverAddress string, backendHostPort string) error

	// NotifyDisconnected is called when a relayed connection ends.
	NotifyDisconnected(ctx context.Context,
		clientAddr net.Addr, serverAddress string, backendHostPort string) error
}
