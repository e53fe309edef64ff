package factory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ametist/accountbox/chain"
)

// Deployment is a factory behind a handle
type Deployment struct {
	Handle         common.Address
	Implementation common.Address
}

// DeployImplementation deploys impl so handles can point at it
func DeployImplementation(c *chain.Chain, deployer common.Address, impl Implementation) (common.Address, error) {
	addr, _, err := c.Deploy(deployer, func(*chain.Env) (chain.Contract, error) { return impl, nil })
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to deploy factory v%d: %w", impl.Version(), err)
	}
	return addr, nil
}

// DeployUpgradeable deploys V1 and a handle in front of it, initialised with trustedForwarder
// and owner
func DeployUpgradeable(c *chain.Chain, deployer, trustedForwarder, owner common.Address) (*Deployment, error) {
	impl, err := DeployImplementation(c, deployer, NewV1())
	if err != nil {
		return nil, err
	}
	initData, err := factoryABI.Pack("initialize", trustedForwarder, owner)
	if err != nil {
		return nil, err
	}
	handle, _, err := c.Deploy(deployer, NewHandle(impl, initData))
	if err != nil {
		return nil, fmt.Errorf("failed to deploy factory handle: %w", err)
	}
	return &Deployment{Handle: handle, Implementation: impl}, nil
}

// UpgradeToV2 deploys V2 and upgrades the handle to it, running the V2 reinitializer. from must
// be the handle owner.
func UpgradeToV2(c *chain.Chain, deployer, from, handle common.Address) (common.Address, error) {
	impl, err := DeployImplementation(c, deployer, NewV2())
	if err != nil {
		return common.Address{}, err
	}
	initData, err := factoryABI.Pack("initializeV2")
	if err != nil {
		return common.Address{}, err
	}
	data, err := factoryABI.Pack("upgradeToAndCall", impl, initData)
	if err != nil {
		return common.Address{}, err
	}
	if _, _, err := c.ApplyMessage(chain.Message{From: from, To: handle, Data: data}); err != nil {
		return common.Address{}, fmt.Errorf("failed to upgrade factory: %w", err)
	}
	return impl, nil
}
