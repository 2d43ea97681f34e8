package merger

// ApplyPolicyForTest exposes applyPolicy.
var ApplyPolicyForTest = applyPolicy
