package math

// ------------------------------------------
// Quaternion
// ------------------------------------------

/**
 * @brief Creates an identity quaternion.
 *
 * @return An identity quaternion.
 */
func NewQuatIdentity() Quaternion {
	return Quaternion{0, 0, 0, 1.0}
}

/**
 * @brief Creates a quaternion from the supplied components.
 */
func NewQuat(x, y, z, w float32) Quaternion {
	return Quaternion{x, y, z, w}
}

/**
 * @brief Returns the normal of the provided quaternion.
 *
 * @param q The quaternion.
 * @return The normal of the provided quaternion.
 */
func (q Quaternion) Normal() float32 {
	return ksqrt(
		q.X*q.X +
			q.Y*q.Y +
			q.Z*q.Z +
			q.W*q.W)
}

/**
 * @brief Returns a normalized copy of the provided quaternion. A zero
 * quaternion normalizes to identity.
 *
 * @param q The quaternion to normalize.
 * @return A normalized copy of the provided quaternion.
 */
func (q Quaternion) Normalize() Quaternion {
	normal := q.Normal()
	if normal == 0 {
		return NewQuatIdentity()
	}
	return Quaternion{
		q.X / normal,
		q.Y / normal,
		q.Z / normal,
		q.W / normal}
}

/**
 * @brief Returns true if the quaternion has unit length within tolerance.
 */
func (q Quaternion) IsUnit(tolerance float32) bool {
	return kabs(q.Normal()-1.0) <= tolerance
}

/**
 * @brief Returns the conjugate of the provided quaternion. That is,
 * The x, y and z elements are negated, but the w element is untouched.
 *
 * @param q The quaternion to obtain a conjugate of.
 * @return The conjugate quaternion.
 */
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{-q.X, -q.Y, -q.Z, q.W}
}

/**
 * @brief Returns an inverse copy of the provided quaternion.
 *
 * @param q The quaternion to invert.
 * @return An inverse copy of the provided quaternion.
 */
func (q Quaternion) Inverse() Quaternion {
	c := q.Conjugate()
	return c.Normalize()
}

/**
 * @brief Returns the quaternion with all four components negated. It
 * represents the same rotation.
 */
func (q Quaternion) Neg() Quaternion {
	return Quaternion{-q.X, -q.Y, -q.Z, -q.W}
}

/**
 * @brief Component-wise sum of two quaternions.
 */
func (q Quaternion) Add(other Quaternion) Quaternion {
	return Quaternion{q.X + other.X, q.Y + other.Y, q.Z + other.Z, q.W + other.W}
}

/**
 * @brief Multiplies every component by scalar.
 */
func (q Quaternion) Scale(scalar float32) Quaternion {
	return Quaternion{q.X * scalar, q.Y * scalar, q.Z * scalar, q.W * scalar}
}

/**
 * @brief Multiplies the provided quaternions.
 *
 * @param q_0 The first quaternion.
 * @param q_1 The second quaternion.
 * @return The multiplied quaternion.
 */
func (q Quaternion) Mul(other Quaternion) Quaternion {
	out_quaternion := Quaternion{}

	out_quaternion.X = q.X*other.W +
		q.Y*other.Z -
		q.Z*other.Y +
		q.W*other.X

	out_quaternion.Y = -q.X*other.Z +
		q.Y*other.W +
		q.Z*other.X +
		q.W*other.Y

	out_quaternion.Z = q.X*other.Y -
		q.Y*other.X +
		q.Z*other.W +
		q.W*other.Z

	out_quaternion.W = -q.X*other.X -
		q.Y*other.Y -
		q.Z*other.Z +
		q.W*other.W

	return out_quaternion
}

/**
 * @brief Calculates the dot product of the provided quaternions.
 *
 * @param q_0 The first quaternion.
 * @param q_1 The second quaternion.
 * @return The dot product of the provided quaternions.
 */
func (q Quaternion) Dot(other Quaternion) float32 {
	return q.X*other.X +
		q.Y*other.Y +
		q.Z*other.Z +
		q.W*other.W
}

/**
 * @brief Rotates the vector by the quaternion (q * v * q^-1).
 */
func (q Quaternion) RotateVec3(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).MulScalar(2)
	return v.Add(t.MulScalar(q.W)).Add(u.Cross(t))
}

/**
 * @brief Compares two quaternions as rotations. q and -q are considered equal.
 *
 * @param tolerance Per component tolerance.
 * @return True if both quaternions describe the same rotation within tolerance.
 */
func (q Quaternion) Compare(other Quaternion, tolerance float32) bool {
	if q.Dot(other) < 0 {
		other = other.Neg()
	}
	return kabs(q.X-other.X) <= tolerance &&
		kabs(q.Y-other.Y) <= tolerance &&
		kabs(q.Z-other.Z) <= tolerance &&
		kabs(q.W-other.W) <= tolerance
}

/**
 * @brief Creates a quaternion from the given axis and angle.
 *
 * @param axis The axis of rotation.
 * @param angle The angle of rotation.
 * @param normalize Indicates if the quaternion should be normalized.
 * @return A new quaternion.
 */
func NewQuatFromAxisAngle(axis Vec3, angle float32, normalize bool) Quaternion {
	half_angle := 0.5 * angle
	s := ksin(half_angle)
	c := kcos(half_angle)

	q := Quaternion{s * axis.X, s * axis.Y, s * axis.Z, c}
	if normalize {
		q = q.Normalize()
	}
	return q
}

/**
 * @brief Returns the logarithm of a unit quaternion as a rotation vector
 * (axis scaled by the half angle).
 */
func (q Quaternion) Log() Vec3 {
	v := Vec3{q.X, q.Y, q.Z}
	sin_half := v.Length()
	if sin_half < K_FLOAT_EPSILON {
		return Vec3{}
	}
	half_angle := katan2(sin_half, q.W)
	return v.MulScalar(half_angle / sin_half)
}

/**
 * @brief Returns the unit quaternion whose logarithm is v. Inverse of Log.
 */
func QuatExp(v Vec3) Quaternion {
	half_angle := v.Length()
	if half_angle < K_FLOAT_EPSILON {
		return NewQuatIdentity()
	}
	s := ksin(half_angle) / half_angle
	return Quaternion{v.X * s, v.Y * s, v.Z * s, kcos(half_angle)}
}

/**
 * @brief Normalized linear interpolation. Takes the shortest arc by
 * flipping the second quaternion when the dot product is negative.
 *
 * @param other The target quaternion.
 * @param t Interpolation factor, typically 0.0f-1.0f.
 * @return A unit quaternion.
 */
func (q Quaternion) Nlerp(other Quaternion, t float32) Quaternion {
	if q.Dot(other) < 0 {
		other = other.Neg()
	}
	r := Quaternion{
		q.X + (other.X-q.X)*t,
		q.Y + (other.Y-q.Y)*t,
		q.Z + (other.Z-q.Z)*t,
		q.W + (other.W-q.W)*t}
	return r.Normalize()
}

/**
 * @brief Calculates spherical linear interpolation of a given percentage
 * between two quaternions.
 *
 * @param q_0 The first quaternion.
 * @param q_1 The second quaternion.
 * @param percentage The percentage of interpolation, typically a value from 0.0f-1.0f.
 * @return An interpolated quaternion.
 */
func (q Quaternion) Slerp(other Quaternion, percentage float32) Quaternion {
	// Source: https://en.Wikipedia.org/wiki/Slerp
	v0 := q.Normalize()
	v1 := other.Normalize()

	dot := v0.Dot(v1)

	// v1 and -v1 are the same rotation; take the shorter path.
	if dot < 0.0 {
		v1 = v1.Neg()
		dot = -dot
	}

	DOT_THRESHOLD := float32(0.9995)
	if dot > DOT_THRESHOLD {
		return v0.Nlerp(v1, percentage)
	}

	theta_0 := kacos(dot)
	theta := theta_0 * percentage
	sin_theta := ksin(theta)
	sin_theta_0 := ksin(theta_0)

	s0 := kcos(theta) - dot*sin_theta/sin_theta_0 // == sin(theta_0 - theta) / sin(theta_0)
	s1 := sin_theta / sin_theta_0

	return Quaternion{
		(v0.X * s0) + (v1.X * s1),
		(v0.Y * s0) + (v1.Y * s1),
		(v0.Z * s0) + (v1.Z * s1),
		(v0.W * s0) + (v1.W * s1)}
}

// ------------------------------------------
// QuatT
// ------------------------------------------

/**
 * @brief Creates an identity transform.
 */
func NewQuatTIdentity() QuatT {
	return QuatT{Q: NewQuatIdentity()}
}

/**
 * @brief Transforms a point: rotation followed by translation.
 */
func (qt QuatT) TransformPoint(p Vec3) Vec3 {
	return qt.Q.RotateVec3(p).Add(qt.T)
}

/**
 * @brief Concatenates two transforms so that the result applies other first.
 */
func (qt QuatT) Mul(other QuatT) QuatT {
	return QuatT{
		Q: qt.Q.Mul(other.Q),
		T: qt.Q.RotateVec3(other.T).Add(qt.T),
	}
}
