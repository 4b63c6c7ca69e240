package tool

import (
	"fmt"
	"maps"

	"github.com/invopop/jsonschema"
	schemavalidator "github.com/santhosh-tekuri/jsonschema/v6"

	"pricebot/internal/domain"
)

const imageDescriptionHelp = `
The description of the BTC/USD chart image to be generated by DALL-E-3 with the 1792x1024 size. Maximum 4000 characters.
Please ask the user to provide the time period for which to draw BTC/USD chart.

You are capable of generating the descriptions of professional and simple BTC/USD charts to show how the price of the BTC/USD changes with the time.
X-axis shows time.

Calculate the points for the chart extrapolating the result of the function pivot_points.
Include the price, support, and resistance levels lines in the BTC/USD chart.
DO NOT PUT TEXT ON THE CHART IMAGE, JUST THREE LINES: price, support, and resistance levels.
Provide exact coordinates for the points thru which those three lines should pass.
For the X, provide the number of the point, for the Y - the price.
Make the chart simple, clear, and easy to understand in the professional dark theme.
Use red and green colors for the lines - green when line is going up, red when line is going down.

Provide the maximum detailed description of the chart image to be generated by DALL-E-3.
Maximum size of description should be strictly 4000 characters.
Do not provide description of the image with the size more than 4000 characters.

After the user has received the image, provide the comments to the user, explaining the time range for which that chart
is drawn, the max and min price of the BTC/USD on this chart, and the resistance and support levels for the time period chosen by the user.
`

// ImageArgs are the arguments of generate_image.
type ImageArgs struct {
	Description string `json:"description,omitempty"`
}

func (ImageArgs) JSONSchemaExtend(s *jsonschema.Schema) {
	if p, ok := s.Properties.Get("description"); ok {
		p.Description = imageDescriptionHelp
	}
}

// VoiceArgs are the arguments of set_voice.
type VoiceArgs struct {
	IsVoiceEnabled bool `json:"isVoiceEnabled,omitempty"`
}

func (VoiceArgs) JSONSchemaExtend(s *jsonschema.Schema) {
	if p, ok := s.Properties.Get("isVoiceEnabled"); ok {
		p.Description = "Set to true to enable voice messages and to false to disable voice messages"
	}
}

type catalogEntry struct {
	name        domain.CapabilityName
	description string
	args        any // nil when the capability takes no arguments
}

var catalogEntries = []catalogEntry{
	{
		name:        domain.CapGenerateImage,
		description: "Generate an image with BTC/USD chart using DALL-E based on the description provided and save it to user's files",
		args:        ImageArgs{},
	},
	{
		name:        domain.CapListFiles,
		description: "List files (including images) uploaded by user",
	},
	{
		name:        domain.CapDescribeCapabilities,
		description: "Get the description of the @btc_price_ai_bot bot and its features",
	},
	{
		name:        domain.CapGetVoice,
		description: "Get the current status of voice messages. If on, every assistant's message will be converted to voice and sent to user",
	},
	{
		name:        domain.CapSetVoice,
		description: "Sets the status of voice messages. If true, every assistant's message will be converted to voice and sent to user",
		args:        VoiceArgs{},
	},
	{
		name:        domain.CapCurrentTime,
		description: "Get the current date and time (UTC time)",
	},
	{
		name: domain.CapTechnicalIndicators,
		description: "Get the Technical Indicators and Pivot Points of BTC/USD for different time periods from the current time: " +
			"1 minute, 5 minutes, 15 minutes, 30 minutes, 1 hour, 5 hours, 1 day, 1 week, 1 month. " +
			"Those pivot points are used to predict the future price of BTC/USD",
	},
}

// Catalog is the fixed, ordered list of capabilities advertised to the model.
// It is built once and never mutated.
type Catalog struct {
	descriptors []domain.CapabilityDescriptor
	validators  map[domain.CapabilityName]*schemavalidator.Schema
}

// NewCatalog reflects the argument schemas and compiles a validator for each.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{
		descriptors: make([]domain.CapabilityDescriptor, 0, len(catalogEntries)),
		validators:  make(map[domain.CapabilityName]*schemavalidator.Schema),
	}
	for _, e := range catalogEntries {
		d := domain.CapabilityDescriptor{Name: e.name, Description: e.description}
		if e.args != nil {
			params, err := reflectParameters(e.args)
			if err != nil {
				return nil, fmt.Errorf("capability %s: %w", e.name, err)
			}
			v, err := compileParameters(string(e.name), params)
			if err != nil {
				return nil, fmt.Errorf("capability %s: %w", e.name, err)
			}
			d.Parameters = params
			c.validators[e.name] = v
		}
		c.descriptors = append(c.descriptors, d)
	}
	return c, nil
}

// MustCatalog is NewCatalog for static initialization.
func MustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// List returns the catalog in advertised order. The conversation id does not
// change the result. Callers get their own copy and may modify it freely.
func (c *Catalog) List(conversationID string) []domain.CapabilityDescriptor {
	_ = conversationID
	out := make([]domain.CapabilityDescriptor, len(c.descriptors))
	for i, d := range c.descriptors {
		out[i] = d
		if d.Parameters != nil {
			out[i].Parameters = cloneSchema(d.Parameters)
		}
	}
	return out
}

// Lookup returns the descriptor for a name.
func (c *Catalog) Lookup(name domain.CapabilityName) (domain.CapabilityDescriptor, bool) {
	for _, d := range c.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return domain.CapabilityDescriptor{}, false
}

// conforms reports whether args satisfy the capability's parameter schema.
// Capabilities without a schema accept anything.
func (c *Catalog) conforms(name domain.CapabilityName, args Args) error {
	v, ok := c.validators[name]
	if !ok {
		return nil
	}
	return v.Validate(map[string]any(args))
}

func cloneSchema(m map[string]any) map[string]any {
	out := maps.Clone(m)
	for k, v := range out {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneSchema(nested)
		}
	}
	return out
}
