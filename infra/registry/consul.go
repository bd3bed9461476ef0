package registry

import (
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type ConsulRegistry struct {
	client *api.Client
	logger *zap.Logger
}

type ConsulConfig struct {
	Address    string
	Scheme     string
	Datacenter string
}

type ServiceConfig struct {
	ID          string
	Name        string
	Tags        []string
	Address     string
	Port        int
	HealthCheck *HealthCheck
}

type HealthCheck struct {
	HTTP                           string
	Interval                       time.Duration
	Timeout                        time.Duration
	DeregisterCriticalServiceAfter time.Duration
}

// ServiceInstance is one healthy registration returned by Discover.
type ServiceInstance struct {
	ID      string
	Name    string
	Address string
	Port    int
	Tags    []string
}

func (s *ServiceInstance) URL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(s.Address, fmt.Sprint(s.Port)))
}

// NewConsulRegistry connects to the agent and checks that a leader is known.
func NewConsulRegistry(cfg *ConsulConfig, logger *zap.Logger) (*ConsulRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	consulConfig := api.DefaultConfig()
	consulConfig.Address = cfg.Address
	if cfg.Scheme != "" {
		consulConfig.Scheme = cfg.Scheme
	}
	consulConfig.Datacenter = cfg.Datacenter

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	if _, err := client.Status().Leader(); err != nil {
		return nil, fmt.Errorf("connect consul %s: %w", cfg.Address, err)
	}
	logger.Info("consul connected", zap.String("address", cfg.Address))
	return &ConsulRegistry{client: client, logger: logger}, nil
}

func (r *ConsulRegistry) Register(svc *ServiceConfig) error {
	registration := &api.AgentServiceRegistration{
		ID:      svc.ID,
		Name:    svc.Name,
		Tags:    svc.Tags,
		Address: svc.Address,
		Port:    svc.Port,
	}
	if hc := svc.HealthCheck; hc != nil {
		registration.Check = &api.AgentServiceCheck{
			HTTP:                           hc.HTTP,
			Interval:                       hc.Interval.String(),
			Timeout:                        hc.Timeout.String(),
			DeregisterCriticalServiceAfter: hc.DeregisterCriticalServiceAfter.String(),
		}
	}
	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("register %s: %w", svc.ID, err)
	}
	r.logger.Info("service registered", zap.String("name", svc.Name), zap.String("id", svc.ID))
	return nil
}

func (r *ConsulRegistry) Deregister(serviceID string) error {
	if err := r.client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("deregister %s: %w", serviceID, err)
	}
	r.logger.Info("service deregistered", zap.String("id", serviceID))
	return nil
}

// Discover returns the passing instances of a service.
func (r *ConsulRegistry) Discover(name string) ([]*ServiceInstance, error) {
	entries, _, err := r.client.Health().Service(name, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", name, err)
	}
	instances := make([]*ServiceInstance, 0, len(entries))
	for _, e := range entries {
		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}
		instances = append(instances, &ServiceInstance{
			ID:      e.Service.ID,
			Name:    e.Service.Service,
			Address: addr,
			Port:    e.Service.Port,
			Tags:    e.Service.Tags,
		})
	}
	return instances, nil
}

// LocalIP returns the address used for outbound traffic. No packets are sent.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func ServiceID(name, address string, port int) string {
	return fmt.Sprintf("%s-%s-%d", name, address, port)
}
