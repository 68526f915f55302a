package sim

import "context"

// IsEncrypted implements device.Encryption.
func (d *Device) IsEncrypted(_ context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encrypted, nil
}

// StartEncryption implements device.Encryption. The simulated device does
// not reboot: storage stays unencrypted until CompleteEncryption.
func (d *Device) StartEncryption(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpStartEncryption); err != nil {
		return err
	}
	d.encryptionStarts++
	return nil
}

// EncryptionStarts counts the StartEncryption calls that succeeded.
func (d *Device) EncryptionStarts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encryptionStarts
}

// CompleteEncryption marks storage as encrypted, as after the reboot that
// follows StartEncryption.
func (d *Device) CompleteEncryption() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.encrypted = true
}
