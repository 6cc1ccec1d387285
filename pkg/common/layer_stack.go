package common

// LayerStack is an ordered list of layers. The first layer pushed is the outermost.
type LayerStack []Layer

// NewLayerStack creates a new layer stack
func NewLayerStack(layers ...Layer) LayerStack {
	return layers
}

// Push adds layers to the inner end of the stack in place
func (s *LayerStack) Push(layers ...Layer) {
	*s = append(*s, layers...)
}

// Append returns a new stack with layers added to the inner end
func (s LayerStack) Append(layers ...Layer) LayerStack {
	result := make(LayerStack, 0, len(s)+len(layers))
	result = append(result, s...)
	return append(result, layers...)
}

// Prepend returns a new stack with layers added to the outer end
func (s LayerStack) Prepend(layers ...Layer) LayerStack {
	result := make(LayerStack, len(layers)+len(s))
	copy(result, layers)
	copy(result[len(layers):], s)
	return result
}

// Names lists the layer names from outermost to innermost
func (s LayerStack) Names() []string {
	names := make([]string, len(s))
	for i, l := range s {
		names[i] = l.Name()
	}
	return names
}

// Build composes the stack around terminal.
// Continuation i calls layers[i] with continuation i+1; the last continuation is terminal.
func (s LayerStack) Build(terminal Handler) Handler {
	h := terminal
	for i := len(s) - 1; i >= 0; i-- {
		layer, next := s[i], h
		h = func(r *Request) *Response {
			return layer.Call(r, next)
		}
	}
	return h
}
