package mcp

import "context"

// ClientFactory creates Client instances scoped to one actor activation.
type ClientFactory struct {
	registry *ServerRegistry

	// createClientFn overrides client creation in tests.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a factory over the shared server registry.
func NewClientFactory(registry *ServerRegistry) *ClientFactory {
	return &ClientFactory{registry: registry}
}

// Registry returns the factory's server registry.
func (f *ClientFactory) Registry() *ServerRegistry { return f.registry }

// CreateClient creates a Client connected to the specified servers.
// The caller owns the Client and must Close() it.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewTestClientFactory creates a ClientFactory that uses injectFn to wire
// in-memory sessions into each new Client instead of dialing transports.
func NewTestClientFactory(registry *ServerRegistry, injectFn func(c *Client)) *ClientFactory {
	return &ClientFactory{
		registry: registry,
		createClientFn: func(_ context.Context, _ []string) (*Client, error) {
			c := newClient(registry)
			injectFn(c)
			return c, nil
		},
	}
}
