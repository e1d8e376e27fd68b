package worker

import (
	"net/http"
	"strings"
)

// Rule matches requests the controller must leave to the network
type Rule interface {
	Match(req *http.Request) bool
}

// PrefixRule matches every request whose URL starts with BaseURI
type PrefixRule struct {
	BaseURI string
}

// Match checks if a request matches this rule
func (r PrefixRule) Match(req *http.Request) bool {
	return strings.HasPrefix(getTargetURL(req), r.BaseURI)
}

func (c *Controller) bypassed(req *http.Request) bool {
	for _, rule := range c.opts.Bypass {
		if rule.Match(req) {
			return true
		}
	}
	return false
}
