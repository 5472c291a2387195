package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies Watermill message metadata into message attributes.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}
	return Metadata(md).Clone()
}

// ToWatermill copies message attributes into a Watermill metadata map.
func ToWatermill(md Metadata) message.Metadata {
	if len(md) == 0 {
		return message.Metadata{}
	}
	return message.Metadata(md.Clone())
}
