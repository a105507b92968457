package agent

import "github.com/lexiqai/voice-agent/internal/provider"

// Register installs the grpc and echo agents. gRPC agents share d's connections.
func Register(reg *provider.Registry[Agent], d *Dialer) error {
	if err := reg.Register("grpc", func(cfg provider.Config) (Agent, error) {
		var params GRPCParams
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		if params.Address == "" {
			params.Address = d.opts.Address
		}
		conn, err := d.Conn(params.Address)
		if err != nil {
			return nil, err
		}
		return NewGRPCAgent(conn, params, d.opts), nil
	}); err != nil {
		return err
	}

	return reg.Register("echo", func(cfg provider.Config) (Agent, error) {
		var params EchoParams
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		return NewEcho(params), nil
	})
}
