package harness

import (
	"runtime"
	"slices"

	"github.com/ternarybob/probo/internal/params"
)

// Controller performs the pre-execution check that decides whether an object
// can run in the current environment. Controllers contribute their object
// parameters to every Runner and Differ schema under their prefix.
type Controller interface {
	Object
	Prefix() string
	ObjectParams() *params.Set
	Execute(obj Object) error
	IsRunnable() bool
}

// ControllerBase provides the runnable bookkeeping for embedding
type ControllerBase struct {
	Base
	runnable bool
	reason   string
}

// NewControllerBase wraps a populated parameter set
func NewControllerBase(set *params.Set) ControllerBase {
	return ControllerBase{Base: NewBase(set), runnable: true}
}

// IsRunnable reports whether the last Execute left the object runnable
func (c *ControllerBase) IsRunnable() bool {
	return c.runnable
}

// SkipReason returns the reason recorded by Skip
func (c *ControllerBase) SkipReason() string {
	return c.reason
}

// Skip marks the checked object as not runnable
func (c *ControllerBase) Skip(reason string) {
	c.runnable = false
	c.reason = reason
	c.Infof("skipping: %s", reason)
}

// Reset restores the runnable flag in addition to the error count
func (c *ControllerBase) Reset() {
	c.Base.Reset()
	c.runnable = true
	c.reason = ""
}

// PlatformController skips objects that restrict execution to a set of
// operating systems via the "platform/os" sub-parameter.
type PlatformController struct {
	ControllerBase
}

// PlatformControllerParams returns the controller's own parameter template
func PlatformControllerParams() *params.Set {
	set := BaseParams()
	set.Set("name", "PlatformController")
	set.Add("prefix", params.Decl{Kind: params.String, Default: "platform", Immutable: true,
		Doc: "Prefix the object parameters are grafted under."})
	return set
}

// NewPlatformController creates the default platform controller
func NewPlatformController() *PlatformController {
	return &PlatformController{ControllerBase: NewControllerBase(PlatformControllerParams())}
}

func (c *PlatformController) Prefix() string {
	return c.Parameters().GetString("prefix")
}

// ObjectParams returns the parameters grafted onto every checked object
func (c *PlatformController) ObjectParams() *params.Set {
	set := params.NewSet()
	set.Add("os", params.Decl{Kind: params.StringSlice,
		Doc: "Operating system(s) the object is limited to (GOOS names)."})
	return set
}

// Execute checks the object's platform restriction against the host
func (c *PlatformController) Execute(obj Object) error {
	sub := obj.Parameters().Sub(c.Prefix())
	if sub == nil {
		return nil
	}
	allowed := sub.GetStrings("os")
	if len(allowed) == 0 {
		return nil
	}
	if !slices.Contains(allowed, runtime.GOOS) {
		c.Skip("platform " + runtime.GOOS + " not in allowed set")
	}
	return nil
}
