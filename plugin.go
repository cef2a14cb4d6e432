package scripthost

// Plugin adds host capabilities to a Context. Setup runs when the plugin
// is added; Close runs on the owning thread while the context closes.
type Plugin interface {
	Setup(c *Context) error
	Close(c *Context)
}
