package math

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief A quaternion, used to represent rotational orientation. */
type Quaternion Vec4

/**
 * @brief A rotation plus a translation. Used for joint poses and
 * root locations stored in animation assets.
 */
type QuatT struct {
	/** @brief The orientation. */
	Q Quaternion
	/** @brief The translation. */
	T Vec3
}
